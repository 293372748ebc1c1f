package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"dentaldir/internal/domain"
	"dentaldir/internal/repository"
)

type memConversationRepo struct {
	mu     sync.Mutex
	byID   map[string]domain.Conversation
	byPair map[string]string
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{
		byID:   make(map[string]domain.Conversation),
		byPair: make(map[string]string),
	}
}

func (m *memConversationRepo) FindOrCreate(_ context.Context, conv domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pair := conv.DentistID + "|" + conv.PatientID
	if id, ok := m.byPair[pair]; ok {
		return m.byID[id], nil
	}
	m.byPair[pair] = conv.ID
	m.byID[conv.ID] = conv
	return conv, nil
}

func (m *memConversationRepo) GetByID(_ context.Context, id string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok {
		return domain.Conversation{}, pgx.ErrNoRows
	}
	return conv, nil
}

func (m *memConversationRepo) Touch(_ context.Context, id string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if ts.After(conv.UpdatedAt) {
		conv.UpdatedAt = ts
		m.byID[id] = conv
	}
	return nil
}

func (m *memConversationRepo) ListForUser(_ context.Context, userID string) ([]domain.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConversationSummary
	for _, conv := range m.byID {
		if !conv.HasParticipant(userID) {
			continue
		}
		out = append(out, domain.ConversationSummary{
			Conversation: conv,
			PeerID:       conv.PeerOf(userID),
		})
	}
	// Orden por updated_at desc, desempate por id desc.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			a, b := out[i], out[j]
			if b.UpdatedAt.After(a.UpdatedAt) || (b.UpdatedAt.Equal(a.UpdatedAt) && b.ID > a.ID) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *memConversationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memMessageRepo struct {
	mu        sync.Mutex
	seq       int64
	msgs      []domain.Message
	convs     *memConversationRepo
	appendErr error
}

func newMemMessageRepo(convs *memConversationRepo) *memMessageRepo {
	return &memMessageRepo{convs: convs}
}

func (m *memMessageRepo) Append(_ context.Context, message domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return domain.Message{}, m.appendErr
	}
	if m.convs != nil {
		conv, ok := m.convs.byID[message.ConversationID]
		if !ok || !conv.HasParticipant(message.SenderID) {
			return domain.Message{}, repository.ErrInvalidSender
		}
	}
	m.seq++
	message.ID = m.seq
	message.IsRead = false
	m.msgs = append(m.msgs, message)
	return message, nil
}

func (m *memMessageRepo) ListSince(_ context.Context, conversationID string, afterID int64, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.ID > afterID {
			out = append(out, msg)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memMessageRepo) ListPage(_ context.Context, conversationID string, page, size int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			all = append(all, msg)
		}
	}
	end := len(all) - (page-1)*size
	if end <= 0 {
		return nil, nil
	}
	start := end - size
	if start < 0 {
		start = 0
	}
	return append([]domain.Message(nil), all[start:end]...), nil
}

func (m *memMessageRepo) CountByConversation(_ context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			count++
		}
	}
	return count, nil
}

func (m *memMessageRepo) MarkRead(_ context.Context, conversationID, readerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.SenderID != readerID {
			m.msgs[i].IsRead = true
		}
	}
	return nil
}

func (m *memMessageRepo) snapshot(conversationID string) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

// memCounterRepo reproduce la semantica del upsert condicional: chequeo e
// incremento bajo el mismo lock.
type memCounterRepo struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemCounterRepo() *memCounterRepo {
	return &memCounterRepo{counts: make(map[string]int)}
}

func counterKey(dentistID string, month, year int) string {
	return fmt.Sprintf("%s|%d|%d", dentistID, month, year)
}

func (m *memCounterRepo) GetCount(_ context.Context, dentistID string, month, year int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[counterKey(dentistID, month, year)], nil
}

func (m *memCounterRepo) IncrementIfBelow(_ context.Context, dentistID string, month, year, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit < 1 {
		return 0, false, nil
	}
	key := counterKey(dentistID, month, year)
	if m.counts[key] >= limit {
		return 0, false, nil
	}
	m.counts[key]++
	return m.counts[key], true, nil
}

func (m *memCounterRepo) Decrement(_ context.Context, dentistID string, month, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := counterKey(dentistID, month, year)
	if m.counts[key] > 0 {
		m.counts[key]--
	}
	return nil
}

func (m *memCounterRepo) seed(dentistID string, month, year, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[counterKey(dentistID, month, year)] = count
}

type stubIdentity struct {
	dentistPlans map[string]string
	patients     map[string]bool
}

func (s *stubIdentity) IsDentist(_ context.Context, userID string) (bool, error) {
	_, ok := s.dentistPlans[userID]
	return ok, nil
}

func (s *stubIdentity) IsPatient(_ context.Context, userID string) (bool, error) {
	return s.patients[userID], nil
}

func (s *stubIdentity) SubscriptionPlan(_ context.Context, dentistID string) (string, error) {
	plan, ok := s.dentistPlans[dentistID]
	if !ok {
		return "", ErrUserNotFound
	}
	return plan, nil
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) bool { return false }

type messagingFixture struct {
	svc      *MessagingService
	convs    *memConversationRepo
	msgs     *memMessageRepo
	counters *memCounterRepo
	identity *stubIdentity
}

func newMessagingFixture(limit int) *messagingFixture {
	convs := newMemConversationRepo()
	msgs := newMemMessageRepo(convs)
	counters := newMemCounterRepo()
	identity := &stubIdentity{
		dentistPlans: map[string]string{"d1": domain.PlanFree, "d2": domain.PlanPremium},
		patients:     map[string]bool{"p1": true, "p2": true},
	}
	svc := NewMessagingService(nil, convs, msgs, counters, nil, identity, nil, nil, limit)
	return &messagingFixture{svc: svc, convs: convs, msgs: msgs, counters: counters, identity: identity}
}

func (f *messagingFixture) period() (int, int) {
	now := f.svc.now()
	return int(now.Month()), now.Year()
}

func (f *messagingFixture) mustStart(t *testing.T, patientID, dentistID, text string) domain.Conversation {
	t.Helper()
	conv, _, err := f.svc.StartConversation(context.Background(), patientID, dentistID, text)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	return conv
}

func TestStartConversation_CreatesWithFixedRoles(t *testing.T) {
	f := newMessagingFixture(5)

	conv, msg, err := f.svc.StartConversation(context.Background(), "p1", "d1", "Hello")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if conv.DentistID != "d1" || conv.PatientID != "p1" {
		t.Fatalf("unexpected roles: %+v", conv)
	}
	if msg.SenderID != "p1" || msg.Body != "Hello" || msg.IsRead {
		t.Fatalf("unexpected message: %+v", msg)
	}

	page, err := f.svc.GetMessages(context.Background(), conv.ID, "d1", 0, 1)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].IsRead {
		t.Fatalf("expected one unread message, got %+v", page.Messages)
	}

	if err := f.svc.MarkRead(context.Background(), conv.ID, "d1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	stored := f.msgs.snapshot(conv.ID)
	if !stored[0].IsRead {
		t.Fatalf("expected message marked read")
	}
}

func TestStartConversation_RoleChecks(t *testing.T) {
	f := newMessagingFixture(5)

	if _, _, err := f.svc.StartConversation(context.Background(), "d1", "d2", "hola"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-patient caller, got %v", err)
	}
	if _, _, err := f.svc.StartConversation(context.Background(), "p1", "nope", "hola"); !errors.Is(err, ErrDentistNotFound) {
		t.Fatalf("expected ErrDentistNotFound, got %v", err)
	}
	if _, _, err := f.svc.StartConversation(context.Background(), "p1", "d1", "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty text, got %v", err)
	}
}

func TestStartConversation_PairIsUniqueUnderConcurrency(t *testing.T) {
	f := newMessagingFixture(5)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, _, err := f.svc.StartConversation(context.Background(), "p1", "d1", fmt.Sprintf("msg %d", n)); err != nil {
				t.Errorf("concurrent start failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := f.convs.count(); got != 1 {
		t.Fatalf("expected exactly one conversation, got %d", got)
	}
}

func TestSendMessage_Failures(t *testing.T) {
	f := newMessagingFixture(5)
	conv := f.mustStart(t, "p1", "d1", "hola")

	if _, err := f.svc.SendMessage(context.Background(), "missing", "p1", "hola"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
	if _, err := f.svc.SendMessage(context.Background(), conv.ID, "p2", "hola"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
	if _, err := f.svc.SendMessage(context.Background(), conv.ID, "p1", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSendMessage_QuotaScenario(t *testing.T) {
	f := newMessagingFixture(5)
	conv := f.mustStart(t, "p1", "d1", "hola")
	month, year := f.period()
	f.counters.seed("d1", month, year, 4)

	if _, err := f.svc.SendMessage(context.Background(), conv.ID, "d1", "respuesta"); err != nil {
		t.Fatalf("expected send at 4/5 to pass, got %v", err)
	}
	count, _ := f.counters.GetCount(context.Background(), "d1", month, year)
	if count != 5 {
		t.Fatalf("expected counter 5, got %d", count)
	}

	if _, err := f.svc.SendMessage(context.Background(), conv.ID, "d1", "otra"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	count, _ = f.counters.GetCount(context.Background(), "d1", month, year)
	if count != 5 {
		t.Fatalf("expected counter to stay at 5, got %d", count)
	}
}

func TestSendMessage_QuotaAtomicAtBoundary(t *testing.T) {
	f := newMessagingFixture(5)
	conv := f.mustStart(t, "p1", "d1", "hola")
	month, year := f.period()
	f.counters.seed("d1", month, year, 4)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.svc.SendMessage(context.Background(), conv.ID, "d1", "carrera")
			results <- err
		}()
	}

	var successes, exceeded int
	for i := 0; i < 2; i++ {
		err := <-results
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrQuotaExceeded):
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || exceeded != 1 {
		t.Fatalf("expected 1 success and 1 quota error, got %d/%d", successes, exceeded)
	}
	count, _ := f.counters.GetCount(context.Background(), "d1", month, year)
	if count != 5 {
		t.Fatalf("expected counter exactly at limit, got %d", count)
	}
}

func TestSendMessage_PremiumBypassesQuota(t *testing.T) {
	f := newMessagingFixture(5)
	conv := f.mustStart(t, "p1", "d2", "hola")
	month, year := f.period()

	for i := 0; i < 10; i++ {
		if _, err := f.svc.SendMessage(context.Background(), conv.ID, "d2", "sin limite"); err != nil {
			t.Fatalf("premium send %d failed: %v", i, err)
		}
	}
	count, _ := f.counters.GetCount(context.Background(), "d2", month, year)
	if count != 0 {
		t.Fatalf("expected counter untouched for premium, got %d", count)
	}

	status, err := f.svc.QuotaStatus(context.Background(), "d2")
	if err != nil {
		t.Fatalf("quota status: %v", err)
	}
	if status.LimitReached {
		t.Fatalf("premium must never report limit reached: %+v", status)
	}
}

func TestSendMessage_PatientsAreUnlimited(t *testing.T) {
	f := newMessagingFixture(2)
	conv := f.mustStart(t, "p1", "d1", "hola")
	month, year := f.period()

	for i := 0; i < 5; i++ {
		if _, err := f.svc.SendMessage(context.Background(), conv.ID, "p1", "pregunta"); err != nil {
			t.Fatalf("patient send %d failed: %v", i, err)
		}
	}
	count, _ := f.counters.GetCount(context.Background(), "d1", month, year)
	if count != 0 {
		t.Fatalf("patient sends must not touch the dentist counter, got %d", count)
	}
}

func TestSendMessage_RefundsQuotaOnAppendFailure(t *testing.T) {
	f := newMessagingFixture(5)
	conv := f.mustStart(t, "p1", "d1", "hola")
	month, year := f.period()
	f.counters.seed("d1", month, year, 2)

	f.msgs.appendErr = errors.New("insert failed")
	if _, err := f.svc.SendMessage(context.Background(), conv.ID, "d1", "respuesta"); err == nil {
		t.Fatalf("expected append failure to surface")
	}
	count, _ := f.counters.GetCount(context.Background(), "d1", month, year)
	if count != 2 {
		t.Fatalf("expected reserved slot refunded, got %d", count)
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	f := newMessagingFixture(5)
	conv := f.mustStart(t, "p1", "d1", "hola")

	f.svc.limiter = denyAllLimiter{}
	if _, err := f.svc.SendMessage(context.Background(), conv.ID, "p1", "spam"); !errors.Is(err, ErrSendRateLimited) {
		t.Fatalf("expected ErrSendRateLimited, got %v", err)
	}
}

func TestGetMessages_OrderingAndWatermark(t *testing.T) {
	f := newMessagingFixture(50)
	conv := f.mustStart(t, "p1", "d1", "m1")
	for i := 2; i <= 7; i++ {
		if _, err := f.svc.SendMessage(context.Background(), conv.ID, "p1", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	page, err := f.svc.GetMessages(context.Background(), conv.ID, "d1", 0, 1)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	var lastID int64
	var lastAt time.Time
	for _, msg := range page.Messages {
		if msg.ID <= lastID {
			t.Fatalf("ids must be strictly increasing, got %d after %d", msg.ID, lastID)
		}
		if msg.CreatedAt.Before(lastAt) {
			t.Fatalf("created_at must be non-decreasing")
		}
		lastID = msg.ID
		lastAt = msg.CreatedAt
	}

	// Poll en el watermark mas alto: vacio hasta que llegue algo nuevo.
	delta, err := f.svc.GetMessages(context.Background(), conv.ID, "d1", lastID, 1)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(delta.Messages) != 0 {
		t.Fatalf("expected empty delta, got %d messages", len(delta.Messages))
	}

	sent, err := f.svc.SendMessage(context.Background(), conv.ID, "p1", "m8")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	delta, err = f.svc.GetMessages(context.Background(), conv.ID, "d1", lastID, 1)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(delta.Messages) != 1 || delta.Messages[0].ID != sent.ID {
		t.Fatalf("expected exactly the new message, got %+v", delta.Messages)
	}
}

func TestGetMessages_Pagination(t *testing.T) {
	f := newMessagingFixture(5)
	conv := f.mustStart(t, "p1", "d1", "m1")
	for i := 2; i <= 120; i++ {
		if _, err := f.svc.SendMessage(context.Background(), conv.ID, "p1", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	page1, err := f.svc.GetMessages(context.Background(), conv.ID, "d1", 0, 1)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1.Messages) != 50 || !page1.HasMore {
		t.Fatalf("expected 50 messages and has_more, got %d/%v", len(page1.Messages), page1.HasMore)
	}
	if page1.Messages[49].Body != "m120" {
		t.Fatalf("page 1 must end at the newest message, got %q", page1.Messages[49].Body)
	}

	page3, err := f.svc.GetMessages(context.Background(), conv.ID, "d1", 0, 3)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3.Messages) != 20 || page3.HasMore {
		t.Fatalf("expected 20 trailing messages without has_more, got %d/%v", len(page3.Messages), page3.HasMore)
	}
	if page3.Messages[0].Body != "m1" {
		t.Fatalf("oldest page must start at m1, got %q", page3.Messages[0].Body)
	}
}

func TestGetMessages_AuthorizationAndReadMarking(t *testing.T) {
	f := newMessagingFixture(5)
	conv := f.mustStart(t, "p1", "d1", "hola")

	if _, err := f.svc.GetMessages(context.Background(), conv.ID, "p2", 0, 1); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.svc.MarkRead(context.Background(), conv.ID, "p2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden from mark read, got %v", err)
	}

	// mark_read es idempotente: dos llamadas dejan el mismo estado que una.
	if err := f.svc.MarkRead(context.Background(), conv.ID, "d1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	first := f.msgs.snapshot(conv.ID)
	if err := f.svc.MarkRead(context.Background(), conv.ID, "d1"); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	second := f.msgs.snapshot(conv.ID)
	for i := range first {
		if first[i].IsRead != second[i].IsRead {
			t.Fatalf("mark read must be idempotent")
		}
	}
	if !second[0].IsRead {
		t.Fatalf("expected patient message read by dentist")
	}
}

func TestQuotaStatus(t *testing.T) {
	f := newMessagingFixture(5)
	month, year := f.period()
	f.counters.seed("d1", month, year, 5)

	status, err := f.svc.QuotaStatus(context.Background(), "d1")
	if err != nil {
		t.Fatalf("quota status: %v", err)
	}
	if status.Count != 5 || status.Limit != 5 || !status.LimitReached || status.Plan != domain.PlanFree {
		t.Fatalf("unexpected status: %+v", status)
	}

	if _, err := f.svc.QuotaStatus(context.Background(), "ghost"); !errors.Is(err, ErrDentistNotFound) {
		t.Fatalf("expected ErrDentistNotFound, got %v", err)
	}
}

func TestListConversations_OrderedByActivity(t *testing.T) {
	f := newMessagingFixture(5)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	step := 0
	f.svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	convA := f.mustStart(t, "p1", "d1", "hola d1")
	convB := f.mustStart(t, "p1", "d2", "hola d2")

	// Actividad nueva en la primera conversacion la sube al tope.
	if _, err := f.svc.SendMessage(context.Background(), convA.ID, "p1", "sigo aqui"); err != nil {
		t.Fatalf("send: %v", err)
	}

	list, err := f.svc.ListConversations(context.Background(), "p1")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
	if list[0].ID != convA.ID || list[1].ID != convB.ID {
		t.Fatalf("expected most recently active first")
	}
}

func TestMessagingService_NotConfigured(t *testing.T) {
	var svc *MessagingService
	if _, err := svc.SendMessage(context.Background(), "c1", "u1", "hola"); !errors.Is(err, ErrMessagingNotConfigured) {
		t.Fatalf("expected ErrMessagingNotConfigured, got %v", err)
	}
}
