package email

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockConfig() EmailConfig {
	return EmailConfig{Sender: defaultSender, AlertRecipient: defaultAlertRecipient, SendConfirmations: true, MockMode: true}
}

func TestLoadEmailConfigDefaultsToMock(t *testing.T) {
	t.Setenv("EMAIL_SMTP_HOST", "")
	cfg := LoadEmailConfig()

	assert.True(t, cfg.MockMode)
	assert.Equal(t, "587", cfg.SMTPPort)
	assert.Equal(t, defaultSender, cfg.Sender)
}

func TestSendVerificationRecordsInMockOutbox(t *testing.T) {
	ResetMockOutbox()

	err := SendVerification(mockConfig(), VerificationData{
		Name:             "Ada Obi",
		Email:            "ada@example.com",
		Code:             "042917",
		MembershipNumber: "MA-2025-000123",
		TierName:         "Full Member",
		VerifyURL:        "http://localhost:3000/verify-email?email=ada%40example.com",
	})
	require.NoError(t, err)

	sent := MockOutbox()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To)
	assert.Equal(t, "Verify your email address", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "042917")
	assert.NotContains(t, sent[0].Body, "Subject:")
}

func TestSendSkippedWhenConfirmationsDisabled(t *testing.T) {
	ResetMockOutbox()
	cfg := mockConfig()
	cfg.SendConfirmations = false

	require.NoError(t, SendRenewalConfirmation(cfg, MembershipChangeData{Email: "a@b.co", ExpiresAt: time.Now()}))
	assert.Empty(t, MockOutbox())
}

func TestRenderRequiresSubject(t *testing.T) {
	_, _, err := render("broken", "Hello {{.}}", "x")
	assert.Error(t, err)
}

func TestMockOutboxKeepsNewestMessages(t *testing.T) {
	ResetMockOutbox()
	t.Cleanup(ResetMockOutbox)

	for i := 0; i < maxMockOutbox+5; i++ {
		require.NoError(t, SendMail(mockConfig(), Message{To: fmt.Sprintf("m%d@example.com", i), Subject: "n"}))
	}

	sent := MockOutbox()
	require.Len(t, sent, maxMockOutbox)
	assert.Equal(t, "m5@example.com", sent[0].To)
	assert.Equal(t, fmt.Sprintf("m%d@example.com", maxMockOutbox+4), sent[len(sent)-1].To)
}

func TestSendAlertEmail(t *testing.T) {
	ResetMockOutbox()
	t.Cleanup(ResetMockOutbox)

	require.NoError(t, SendAlertEmail(mockConfig(), "Cleanup failed", "details"))
	sent := MockOutbox()
	require.Len(t, sent, 1)
	assert.Equal(t, defaultAlertRecipient, sent[0].To)

	cfg := mockConfig()
	cfg.AlertRecipient = ""
	assert.Error(t, SendAlertEmail(cfg, "Cleanup failed", "details"))
	assert.Len(t, MockOutbox(), 1)
}
