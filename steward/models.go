//nolint:lll // struct tags can't be split
package steward

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"regexp"
	"strings"
	"time"
)

const (
	columnHashedMemberID      = "hashed_member_id"
	columnHashedGroupMemberID = "hashed_group_member_id"
	columnReminderSendAt      = "send_at"

	discordReminderMessageMaxLength = 1500
)

var groupMemberIDPattern = regexp.MustCompile(`\A\d{7}\z`)

// IntroductionReminderOptOutMember records a member who opted out of
// introduction reminders
type IntroductionReminderOptOutMember struct {
	ModelUintID
	ModelUnixTime
	HashedMemberID string `json:"hashed_member_id" gorm:"not null;uniqueIndex;size:64"`
}

// SentOneOffIntroductionReminderMember records a member who already got
// their one-off introduction reminder
type SentOneOffIntroductionReminderMember struct {
	ModelUintID
	ModelUnixTime
	HashedMemberID string `json:"hashed_member_id" gorm:"not null;uniqueIndex;size:64"`
}

// SentGetRolesReminderMember records a member who was reminded to pick
// opt-in roles
type SentGetRolesReminderMember struct {
	ModelUintID
	ModelUnixTime
	HashedMemberID string `json:"hashed_member_id" gorm:"not null;uniqueIndex;size:64"`
}

// GroupMadeMember records a group membership ID that has been used with
// /makemember, so it can't be reused
type GroupMadeMember struct {
	ModelUintID
	ModelUnixTime
	HashedGroupMemberID string `json:"hashed_group_member_id" gorm:"not null;uniqueIndex;size:64"`
}

// hashGroupMemberID validates and hashes a 7-digit group membership ID
func hashGroupMemberID(id string) (string, error) {
	if !groupMemberIDPattern.MatchString(id) {
		return "", fmt.Errorf("%q is not a valid group member ID", id)
	}
	return sha256Hex(id), nil
}

// DiscordReminder is a pending /remindme reminder
type DiscordReminder struct {
	ModelUintID
	ModelUnixTime
	HashedMemberID string                `json:"hashed_member_id" gorm:"not null;size:64;uniqueIndex:idx_discord_reminder_member_message_channel"`
	Message        string                `json:"message" gorm:"not null;size:1500;uniqueIndex:idx_discord_reminder_member_message_channel"`
	ChannelID      string                `json:"channel_id" gorm:"not null;uniqueIndex:idx_discord_reminder_member_message_channel"`
	ChannelType    discordgo.ChannelType `json:"channel_type" gorm:"not null"`
	SendAt         time.Time             `json:"send_at" gorm:"not null;index"`
}

// BeforeSave validates the reminder
func (r *DiscordReminder) BeforeSave(_ *gorm.DB) error {
	if !snowflakePattern.MatchString(r.ChannelID) {
		return fmt.Errorf("%q is not a valid channel ID", r.ChannelID)
	}
	if len([]rune(r.Message)) > discordReminderMessageMaxLength {
		return fmt.Errorf(
			"reminder message must be at most %d characters",
			discordReminderMessageMaxLength,
		)
	}
	return nil
}

// FormatMessage renders the reminder as sent to the channel. mention is
// omitted when empty.
func (r DiscordReminder) FormatMessage(mention string) string {
	var b strings.Builder
	b.WriteString("This is your reminder")
	if mention != "" {
		b.WriteString(", ")
		b.WriteString(mention)
	}
	b.WriteString("!")
	if r.Message != "" {
		b.WriteString("\n**")
		b.WriteString(r.Message)
		b.WriteString("**")
	}
	return b.String()
}

// DiscordMemberStrikes tracks the moderation strikes given to a member
type DiscordMemberStrikes struct {
	ModelUintID
	ModelUnixTime
	HashedMemberID string `json:"hashed_member_id" gorm:"not null;uniqueIndex;size:64"`
	Strikes        int    `json:"strikes" gorm:"not null;default:0;check:strikes >= 0"`
}

// StringList is stored as a JSON array
type StringList []string

func (l *StringList) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("invalid type for StringList")
	}
	return json.Unmarshal(data, l)
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	return string(data), err
}

func (StringList) GormDataType() string {
	return "text"
}

// LeftMember records the roles held by a member who left the guild
type LeftMember struct {
	ModelUintID
	ModelUnixTime
	Roles StringList `json:"roles" gorm:"not null"`
}

// memberRecordExists reports whether a record of type T exists for the
// given discord member ID
func memberRecordExists[T any](ctx context.Context, db *gorm.DB, memberID string) (
	bool,
	error,
) {
	hashed, err := hashDiscordID(memberID)
	if err != nil {
		return false, err
	}
	var count int64
	err = db.WithContext(ctx).Model(new(T)).Where(
		columnHashedMemberID+" = ?",
		hashed,
	).Count(&count).Error
	return count > 0, err
}

// deleteMemberRecords removes every record of type T for the member ID
func deleteMemberRecords[T any](ctx context.Context, db DBI, memberID string) (int64, error) {
	hashed, err := hashDiscordID(memberID)
	if err != nil {
		return 0, err
	}
	return db.Delete(ctx, new(T), columnHashedMemberID+" = ?", hashed)
}

// hashedMemberIDSet returns the hashed member IDs stored for T
func hashedMemberIDSet[T any](ctx context.Context, db *gorm.DB) (map[string]struct{}, error) {
	var ids []string
	if err := db.WithContext(ctx).Model(new(T)).Pluck(columnHashedMemberID, &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// getOrCreateStrikes returns the member's strikes record, creating one with
// zero strikes if it doesn't exist yet
func getOrCreateStrikes(ctx context.Context, db DBI, memberID string) (
	*DiscordMemberStrikes,
	error,
) {
	hashed, err := hashDiscordID(memberID)
	if err != nil {
		return nil, err
	}
	strikes := &DiscordMemberStrikes{HashedMemberID: hashed}
	err = db.Transaction(
		ctx, func(tx *gorm.DB) error {
			return tx.Where(
				DiscordMemberStrikes{HashedMemberID: hashed},
			).FirstOrCreate(strikes).Error
		},
	)
	return strikes, err
}
