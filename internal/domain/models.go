package domain

import "time"

const (
	RoleDentist = "dentist"
	RolePatient = "patient"

	PlanFree    = "free"
	PlanPremium = "premium"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         string    `json:"role"`
	Plan         string    `json:"plan,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation vincula un dentista con un paciente. Existe a lo sumo una
// conversacion por par; UpdatedAt refleja el ultimo mensaje.
type Conversation struct {
	ID        string    `json:"id"`
	DentistID string    `json:"dentist_id"`
	PatientID string    `json:"patient_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PeerOf devuelve el otro participante, o "" si userID no participa.
func (c Conversation) PeerOf(userID string) string {
	switch userID {
	case c.DentistID:
		return c.PatientID
	case c.PatientID:
		return c.DentistID
	}
	return ""
}

func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.DentistID || userID == c.PatientID)
}

// Message pertenece a una conversacion. El ID lo asigna el store de forma
// monotonica creciente; los clientes lo usan como watermark de polling.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"message"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageCounter acumula los envios de un dentista free por mes calendario.
type MessageCounter struct {
	DentistID    string `json:"dentist_id"`
	Month        int    `json:"month"`
	Year         int    `json:"year"`
	MessageCount int    `json:"message_count"`
}

type QuotaStatus struct {
	Plan         string `json:"plan"`
	Count        int    `json:"count"`
	Limit        int    `json:"limit"`
	LimitReached bool   `json:"limit_reached"`
}

// ConversationSummary alimenta el listado de conversaciones del usuario.
type ConversationSummary struct {
	Conversation
	PeerID          string    `json:"peer_id"`
	PeerName        string    `json:"peer_name,omitempty"`
	LastMessageBody string    `json:"last_message,omitempty"`
	LastMessageAt   time.Time `json:"last_message_at"`
	UnreadCount     int       `json:"unread_count"`
}

type Favorite struct {
	PatientID   string    `json:"patient_id"`
	DentistID   string    `json:"dentist_id"`
	DentistName string    `json:"dentist_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
