package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"dentaldir/internal/domain"
	"dentaldir/internal/email"
	"dentaldir/internal/repository"
)

var (
	ErrMessagingNotConfigured = errors.New("messaging service not configured")
	ErrInvalidInput           = errors.New("messaging invalid input")
	ErrForbidden              = errors.New("not a conversation participant")
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrDentistNotFound        = errors.New("dentist not found")
	ErrQuotaExceeded          = errors.New("monthly message limit reached")
	ErrSendRateLimited        = errors.New("sending too fast")
)

// Cantidad fija de mensajes por pagina, tanto para "cargar anteriores"
// como tope de cada poll incremental.
const messagePageSize = 50

// MessagesPage es el resultado de una lectura paginada o incremental.
type MessagesPage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// MessagingService orquesta el ciclo de vida de conversaciones y mensajes:
// resolucion de conversacion, gate de cuota free, persistencia, touch y
// marcado de lectura. Es el unico dueño del invariante "chequeo e incremento
// de cuota son atomicos entre si para un dentista dado".
type MessagingService struct {
	logger        *zap.Logger
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	counters      repository.CounterRepository
	users         repository.UserRepository
	identity      IdentityOracle
	limiter       SendRateLimiter
	notifier      email.Sender
	limit         int
	now           func() time.Time
}

func NewMessagingService(
	logger *zap.Logger,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	counters repository.CounterRepository,
	users repository.UserRepository,
	identity IdentityOracle,
	limiter SendRateLimiter,
	notifier email.Sender,
	limit int,
) *MessagingService {
	if limit <= 0 {
		limit = 5
	}
	return &MessagingService{
		logger:        logger,
		conversations: conversations,
		messages:      messages,
		counters:      counters,
		users:         users,
		identity:      identity,
		limiter:       limiter,
		notifier:      notifier,
		limit:         limit,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MessagingService) configured() bool {
	return s != nil && s.conversations != nil && s.messages != nil &&
		s.counters != nil && s.identity != nil
}

// StartConversation abre (o reutiliza) la conversacion del par y entrega el
// primer mensaje del paciente. Solo pacientes inician conversaciones.
func (s *MessagingService) StartConversation(ctx context.Context, patientID, dentistID, text string) (domain.Conversation, domain.Message, error) {
	if !s.configured() {
		return domain.Conversation{}, domain.Message{}, ErrMessagingNotConfigured
	}

	patientID = strings.TrimSpace(patientID)
	dentistID = strings.TrimSpace(dentistID)
	text = strings.TrimSpace(text)
	if patientID == "" || dentistID == "" || text == "" {
		return domain.Conversation{}, domain.Message{}, ErrInvalidInput
	}

	isPatient, err := s.identity.IsPatient(ctx, patientID)
	if err != nil {
		return domain.Conversation{}, domain.Message{}, err
	}
	if !isPatient {
		return domain.Conversation{}, domain.Message{}, ErrForbidden
	}
	isDentist, err := s.identity.IsDentist(ctx, dentistID)
	if err != nil {
		return domain.Conversation{}, domain.Message{}, err
	}
	if !isDentist {
		return domain.Conversation{}, domain.Message{}, ErrDentistNotFound
	}

	now := s.now()
	conv, err := s.conversations.FindOrCreate(ctx, domain.Conversation{
		ID:        uuid.NewString(),
		DentistID: dentistID,
		PatientID: patientID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Conversation{}, domain.Message{}, err
	}

	msg, err := s.deliver(ctx, conv, patientID, text)
	if err != nil {
		return domain.Conversation{}, domain.Message{}, err
	}
	return conv, msg, nil
}

// SendMessage entrega un mensaje dentro de una conversacion existente.
func (s *MessagingService) SendMessage(ctx context.Context, conversationID, senderID, text string) (domain.Message, error) {
	if !s.configured() {
		return domain.Message{}, ErrMessagingNotConfigured
	}

	conversationID = strings.TrimSpace(conversationID)
	senderID = strings.TrimSpace(senderID)
	text = strings.TrimSpace(text)
	if conversationID == "" || senderID == "" || text == "" {
		return domain.Message{}, ErrInvalidInput
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Message{}, ErrConversationNotFound
		}
		return domain.Message{}, err
	}
	if !conv.HasParticipant(senderID) {
		return domain.Message{}, ErrForbidden
	}

	return s.deliver(ctx, conv, senderID, text)
}

// deliver asume conversacion resuelta y remitente participante. Orden del
// camino de envio: anti-flood, gate de cuota (solo dentista free), insert,
// touch y notificacion. La cuota se reserva ANTES del insert con un
// incremento condicional atomico; si el insert falla, se devuelve la reserva.
func (s *MessagingService) deliver(ctx context.Context, conv domain.Conversation, senderID, text string) (domain.Message, error) {
	if s.limiter != nil && !s.limiter.Allow(senderID) {
		return domain.Message{}, ErrSendRateLimited
	}

	now := s.now()
	month, year := int(now.Month()), now.Year()

	quotaReserved := false
	if senderID == conv.DentistID {
		plan, err := s.identity.SubscriptionPlan(ctx, conv.DentistID)
		if err != nil {
			return domain.Message{}, err
		}
		if plan == domain.PlanFree {
			_, ok, err := s.counters.IncrementIfBelow(ctx, conv.DentistID, month, year, s.limit)
			if err != nil {
				return domain.Message{}, err
			}
			if !ok {
				return domain.Message{}, ErrQuotaExceeded
			}
			quotaReserved = true
		}
	}

	msg, err := s.messages.Append(ctx, domain.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Body:           text,
		CreatedAt:      now,
	})
	if err != nil {
		if quotaReserved {
			if derr := s.counters.Decrement(ctx, conv.DentistID, month, year); derr != nil {
				s.log().Warn("quota decrement after failed append",
					zap.Error(derr), zap.String("dentist_id", conv.DentistID))
			}
		}
		if errors.Is(err, repository.ErrInvalidSender) {
			return domain.Message{}, ErrForbidden
		}
		return domain.Message{}, err
	}

	if err := s.conversations.Touch(ctx, conv.ID, msg.CreatedAt); err != nil {
		s.log().Warn("conversation touch failed", zap.Error(err), zap.String("conversation_id", conv.ID))
	}

	s.notifyRecipient(conv, msg)
	return msg, nil
}

// GetMessages es el camino de lectura. Con afterID > 0 hace poll incremental
// por watermark; con afterID = 0 devuelve la pagina pedida (1 = la mas
// reciente). En ambos casos marca como leidos los mensajes ajenos al lector.
func (s *MessagingService) GetMessages(ctx context.Context, conversationID, requesterID string, afterID int64, page int) (MessagesPage, error) {
	if !s.configured() {
		return MessagesPage{}, ErrMessagingNotConfigured
	}

	conv, err := s.conversations.GetByID(ctx, strings.TrimSpace(conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MessagesPage{}, ErrConversationNotFound
		}
		return MessagesPage{}, err
	}
	if !conv.HasParticipant(strings.TrimSpace(requesterID)) {
		return MessagesPage{}, ErrForbidden
	}

	var result MessagesPage
	if afterID > 0 {
		msgs, err := s.messages.ListSince(ctx, conv.ID, afterID, messagePageSize)
		if err != nil {
			return MessagesPage{}, err
		}
		result = MessagesPage{Messages: msgs, HasMore: len(msgs) == messagePageSize}
	} else {
		if page < 1 {
			page = 1
		}
		msgs, err := s.messages.ListPage(ctx, conv.ID, page, messagePageSize)
		if err != nil {
			return MessagesPage{}, err
		}
		total, err := s.messages.CountByConversation(ctx, conv.ID)
		if err != nil {
			return MessagesPage{}, err
		}
		result = MessagesPage{Messages: msgs, HasMore: total > page*messagePageSize}
	}
	if result.Messages == nil {
		result.Messages = []domain.Message{}
	}

	if err := s.messages.MarkRead(ctx, conv.ID, requesterID); err != nil {
		s.log().Warn("mark read failed", zap.Error(err), zap.String("conversation_id", conv.ID))
	}
	return result, nil
}

// MarkRead marca como leidos todos los mensajes dirigidos al lector.
func (s *MessagingService) MarkRead(ctx context.Context, conversationID, readerID string) error {
	if !s.configured() {
		return ErrMessagingNotConfigured
	}
	conv, err := s.conversations.GetByID(ctx, strings.TrimSpace(conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotFound
		}
		return err
	}
	if !conv.HasParticipant(strings.TrimSpace(readerID)) {
		return ErrForbidden
	}
	return s.messages.MarkRead(ctx, conv.ID, readerID)
}

// ListConversations devuelve las conversaciones del usuario, mas activas primero.
func (s *MessagingService) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	if !s.configured() {
		return nil, ErrMessagingNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []domain.ConversationSummary{}, nil
	}
	out, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ConversationSummary{}
	}
	return out, nil
}

// QuotaStatus reporta el consumo del mes vigente. Para plan premium el
// contador no se aplica y limit_reached siempre es false.
func (s *MessagingService) QuotaStatus(ctx context.Context, dentistID string) (domain.QuotaStatus, error) {
	if !s.configured() {
		return domain.QuotaStatus{}, ErrMessagingNotConfigured
	}
	dentistID = strings.TrimSpace(dentistID)

	plan, err := s.identity.SubscriptionPlan(ctx, dentistID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return domain.QuotaStatus{}, ErrDentistNotFound
		}
		return domain.QuotaStatus{}, err
	}

	now := s.now()
	count, err := s.counters.GetCount(ctx, dentistID, int(now.Month()), now.Year())
	if err != nil {
		return domain.QuotaStatus{}, err
	}

	return domain.QuotaStatus{
		Plan:         plan,
		Count:        count,
		Limit:        s.limit,
		LimitReached: plan == domain.PlanFree && count >= s.limit,
	}, nil
}

// notifyRecipient avisa por correo al destinatario sin bloquear el envio.
func (s *MessagingService) notifyRecipient(conv domain.Conversation, msg domain.Message) {
	if s.notifier == nil || s.users == nil {
		return
	}
	recipientID := conv.PeerOf(msg.SenderID)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		recipient, err := s.users.GetByID(ctx, recipientID)
		if err != nil || recipient.Email == "" {
			return
		}
		sender, err := s.users.GetByID(ctx, msg.SenderID)
		if err != nil {
			return
		}
		if err := s.notifier.SendMessageNotification(ctx, recipient.Email, sender.DisplayName, msg.Body); err != nil {
			s.log().Warn("message notification failed",
				zap.Error(err), zap.String("conversation_id", conv.ID))
		}
	}()
}

func (s *MessagingService) log() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return zap.NewNop()
}
