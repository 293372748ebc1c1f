package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"dentaldir/internal/config"
	"dentaldir/internal/db"
	"dentaldir/internal/domain"
	"dentaldir/internal/repository"
	"dentaldir/internal/service"
)

// Cliente de consola para probar la mensajeria de punta a punta. No hay push:
// un poll cada 5 segundos trae lo nuevo usando el ultimo id visto como watermark.
const pollInterval = 5 * time.Second

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewExample()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	userRepo := repository.NewPgUserRepository(pool)
	conversationRepo := repository.NewPgConversationRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)
	counterRepo := repository.NewPgCounterRepository(pool)

	identity := service.NewDirectoryIdentity(userRepo)
	messagingSvc := service.NewMessagingService(
		logger,
		conversationRepo,
		messageRepo,
		counterRepo,
		userRepo,
		identity,
		nil,
		nil,
		cfg.MessageMonthlyLimit,
	)

	fmt.Print("Email de usuario: ")
	emailAddr, _ := reader.ReadString('\n')
	user, err := userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Fatal("usuario no encontrado")
		}
		log.Fatal(err)
	}
	fmt.Printf("Sesion como %s (%s)\n", user.DisplayName, user.Role)

	for {
		summaries, err := messagingSvc.ListConversations(ctx, user.ID)
		if err != nil {
			log.Fatalf("listar conversaciones: %v", err)
		}

		fmt.Println("===== Conversaciones =====")
		for i, s := range summaries {
			unread := ""
			if s.UnreadCount > 0 {
				unread = fmt.Sprintf(" [%d sin leer]", s.UnreadCount)
			}
			fmt.Printf("[%d] %s%s — %s\n", i+1, s.PeerName, unread, s.LastMessageBody)
		}
		if user.Role == domain.RolePatient {
			fmt.Println("[N] Nueva conversacion")
		}
		fmt.Println("[Q] Salir")
		fmt.Print("Opcion: ")
		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(choice)

		switch {
		case strings.EqualFold(choice, "Q"):
			return
		case strings.EqualFold(choice, "N") && user.Role == domain.RolePatient:
			startFlow(ctx, reader, userRepo, messagingSvc, user.ID)
		default:
			idx, err := strconv.Atoi(choice)
			if err != nil || idx < 1 || idx > len(summaries) {
				fmt.Println("Opcion invalida")
				continue
			}
			chatLoop(ctx, reader, messagingSvc, summaries[idx-1].Conversation, user.ID)
		}
	}
}

func startFlow(ctx context.Context, reader *bufio.Reader, users repository.UserRepository, svc *service.MessagingService, patientID string) {
	fmt.Print("Email del dentista: ")
	emailAddr, _ := reader.ReadString('\n')
	dentist, err := users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		fmt.Println("dentista no encontrado")
		return
	}
	fmt.Print("Mensaje: ")
	text, _ := reader.ReadString('\n')

	conv, _, err := svc.StartConversation(ctx, patientID, dentist.ID, strings.TrimSpace(text))
	if err != nil {
		fmt.Printf("no se pudo iniciar: %v\n", err)
		return
	}
	chatLoop(ctx, reader, svc, conv, patientID)
}

func chatLoop(ctx context.Context, reader *bufio.Reader, svc *service.MessagingService, conv domain.Conversation, userID string) {
	page, err := svc.GetMessages(ctx, conv.ID, userID, 0, 1)
	if err != nil {
		fmt.Printf("no se pudo abrir la conversacion: %v\n", err)
		return
	}

	var watermark int64
	for _, msg := range page.Messages {
		printMessage(msg, userID)
		watermark = msg.ID
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				delta, err := svc.GetMessages(ctx, conv.ID, userID, watermark, 1)
				if err != nil {
					continue
				}
				for _, msg := range delta.Messages {
					if msg.ID > watermark {
						watermark = msg.ID
					}
					if msg.SenderID != userID {
						printMessage(msg, userID)
					}
				}
			}
		}
	}()
	defer close(done)

	fmt.Println("--- escribe y enter para enviar, /salir para volver ---")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "/salir") {
			return
		}

		msg, err := svc.SendMessage(ctx, conv.ID, userID, line)
		if err != nil {
			if errors.Is(err, service.ErrQuotaExceeded) {
				fmt.Println("Limite mensual alcanzado. Pasate a premium para seguir respondiendo.")
				continue
			}
			fmt.Printf("no se pudo enviar: %v\n", err)
			continue
		}
		if msg.ID > watermark {
			watermark = msg.ID
		}
	}
}

func printMessage(msg domain.Message, userID string) {
	who := "ellos"
	if msg.SenderID == userID {
		who = "yo"
	}
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04"), who, msg.Body)
}
