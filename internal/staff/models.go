package staff

import (
	"time"
)

// Table names in the hosted database.
const (
	TableMasterUsers     = "master_users"
	TableSiteInvites     = "site_invites"
	TableKioskUsers      = "kiosk_users"
	TableTrainingTypes   = "training_types"
	TableTrainingRecords = "training_records"
	TableQuizQuestions   = "quiz_questions"
	TableQuizOptions     = "quiz_options"
	TableQuizAttempts    = "quiz_attempts"
	TableQuizPractices   = "quiz_practices"
	TableHolidayRequests = "4_holiday_requests"
	TableSlotMappings    = "slot_type_mappings"
)

// MasterUser is the merged identity, profile and HR record of a staff member.
type MasterUser struct {
	ID                 int64      `json:"id,omitempty"`
	AuthUserID         string     `json:"auth_user_id,omitempty"`
	Email              string     `json:"email"`
	FullName           string     `json:"full_name"`
	SiteID             int64      `json:"site_id"`
	AccessType         string     `json:"access_type"`
	Active             bool       `json:"active"`
	AvatarURL          *string    `json:"avatar_url,omitempty"`
	HolidayEntitlement float64    `json:"holiday_entitlement"`
	HolidayTaken       float64    `json:"holiday_taken"`
	HolidayRemaining   float64    `json:"holiday_remaining"`
	LastQuizCompleted  *time.Time `json:"last_quiz_completed,omitempty"`
	NextQuizDue        *time.Time `json:"next_quiz_due,omitempty"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

// Access is what the admin guard needs to know about a caller.
type Access struct {
	AccessType string `json:"access_type"`
	SiteID     int64  `json:"site_id"`
}

// Profile holds the master_users columns written when a user is provisioned.
type Profile struct {
	AuthUserID string `json:"auth_user_id"`
	Email      string `json:"email"`
	FullName   string `json:"full_name,omitempty"`
	SiteID     int64  `json:"site_id"`
	AccessType string `json:"access_type"`
	Active     bool   `json:"active"`
}

// InviteStatus is the status of a site invite.
type InviteStatus string

const (
	InviteStatusPending   InviteStatus = "pending"
	InviteStatusAccepted  InviteStatus = "accepted"
	InviteStatusExpired   InviteStatus = "expired"
	InviteStatusRevoked   InviteStatus = "revoked"
	InviteStatusCancelled InviteStatus = "cancelled"
)

// SiteInvite is an invitation of an email address to join a site with a role.
type SiteInvite struct {
	ID         int64        `json:"id,omitempty"`
	Email      string       `json:"email"`
	FullName   string       `json:"full_name,omitempty"`
	Role       string       `json:"role"`
	SiteID     int64        `json:"site_id"`
	Token      string       `json:"token"`
	Status     InviteStatus `json:"status"`
	InvitedBy  string       `json:"invited_by,omitempty"`
	AuthUserID *string      `json:"auth_user_id,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
	AcceptedAt *time.Time   `json:"accepted_at,omitempty"`
	CreatedAt  *time.Time   `json:"created_at,omitempty"`
}

// IsExpired reports whether the invite expiry lies before now.
func (i *SiteInvite) IsExpired(now time.Time) bool {
	return i.ExpiresAt.Before(now)
}

// KioskUser is a PIN based staff record used for clock-in on shared devices.
type KioskUser struct {
	ID         int64  `json:"id,omitempty"`
	SiteID     int64  `json:"site_id"`
	AuthUserID string `json:"auth_user_id,omitempty"`
	FullName   string `json:"full_name"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	PinHash    string `json:"pin_hash,omitempty"`
	Active     bool   `json:"active"`
}

// KioskLogin is a row returned by the kiosk authentication function.
type KioskLogin struct {
	KioskUserID  int64  `json:"kiosk_user_id"`
	MasterUserID int64  `json:"master_user_id"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	SiteID       int64  `json:"site_id"`
}

// TrainingType is a kind of training with an optional validity period.
type TrainingType struct {
	ID             int64  `json:"id,omitempty"`
	SiteID         int64  `json:"site_id"`
	Name           string `json:"name"`
	ValidityMonths int    `json:"validity_months"`
	Mandatory      bool   `json:"mandatory"`
	Active         bool   `json:"active"`
}

// TrainingRecord is a completed training of a user.
type TrainingRecord struct {
	ID             int64   `json:"id,omitempty"`
	SiteID         int64   `json:"site_id"`
	UserID         int64   `json:"user_id"`
	TrainingTypeID int64   `json:"training_type_id"`
	CompletionDate Date    `json:"completion_date"`
	ExpiryDate     *Date   `json:"expiry_date,omitempty"`
	CertificateURL *string `json:"certificate_url,omitempty"`
}

// QuizQuestion is a question with its embedded options.
type QuizQuestion struct {
	ID           int64        `json:"id,omitempty"`
	QuestionText string       `json:"question_text"`
	Category     string       `json:"category,omitempty"`
	Active       bool         `json:"is_active"`
	Options      []QuizOption `json:"quiz_options,omitempty"`
}

// QuizOption is one answer option of a question.
type QuizOption struct {
	ID         int64  `json:"id,omitempty"`
	QuestionID int64  `json:"question_id"`
	OptionText string `json:"option_text"`
	IsCorrect  bool   `json:"is_correct"`
}

// QuizAnswer records the option a user picked for a question.
type QuizAnswer struct {
	QuestionID int64 `json:"question_id"`
	OptionID   int64 `json:"option_id"`
	Correct    bool  `json:"correct"`
}

// QuizAttempt is a scored quiz run. Practice runs share the shape but live in quiz_practices.
type QuizAttempt struct {
	ID             int64        `json:"id,omitempty"`
	UserID         int64        `json:"user_id"`
	SiteID         int64        `json:"site_id"`
	Score          int          `json:"score"`
	TotalQuestions int          `json:"total_questions"`
	Percentage     float64      `json:"percentage"`
	Passed         bool         `json:"passed"`
	Answers        []QuizAnswer `json:"answers"`
	CompletedAt    time.Time    `json:"completed_at"`
}

// HolidayStatus is the approval status of a holiday request.
type HolidayStatus string

const (
	HolidayStatusPending   HolidayStatus = "pending"
	HolidayStatusApproved  HolidayStatus = "approved"
	HolidayStatusRejected  HolidayStatus = "rejected"
	HolidayStatusCancelled HolidayStatus = "cancelled"
)

// HolidayRequest is a leave booking.
type HolidayRequest struct {
	ID            int64         `json:"id,omitempty"`
	UserID        int64         `json:"user_id"`
	SiteID        int64         `json:"site_id"`
	StartDate     Date          `json:"start_date"`
	EndDate       Date          `json:"end_date"`
	DaysRequested float64       `json:"days_requested"`
	Status        HolidayStatus `json:"status"`
	Reason        string        `json:"reason,omitempty"`
	CreatedAt     *time.Time    `json:"created_at,omitempty"`
}

// SlotMapping maps an appointment slot type of the clinical system to a CheckLoops category.
type SlotMapping struct {
	ID        int64      `json:"id,omitempty"`
	SiteID    int64      `json:"site_id"`
	SlotType  string     `json:"slot_type"`
	Category  string     `json:"category"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}
