package email

import "time"

type VerificationData struct {
	Name             string
	Email            string
	Code             string
	MembershipNumber string
	TierName         string
	VerifyURL        string
}

type PasswordResetData struct {
	Name      string
	Email     string
	ResetURL  string
	ExpiresIn string
}

type MembershipChangeData struct {
	Name             string
	Email            string
	MembershipNumber string
	TierName         string
	AmountDue        string
	ExpiresAt        time.Time
}

var verificationTemplate = `Subject: Verify your email address

Dear {{.Name}},

Thank you for applying for {{.TierName}} membership.

Your verification code is: {{.Code}}

Enter it at {{.VerifyURL}} to activate membership {{.MembershipNumber}}.

If you did not apply, you can ignore this message.

Best regards,
The Membership Team`

var passwordResetTemplate = `Subject: Reset your password

Dear {{.Name}},

We received a request to reset the password for {{.Email}}.

Use the link below within {{.ExpiresIn}}:
{{.ResetURL}}

If you did not ask for this, no action is needed.

Best regards,
The Membership Team`

var renewalTemplate = `Subject: Membership renewed - {{.MembershipNumber}}

Dear {{.Name}},

Your {{.TierName}} membership has been renewed.

- Membership number: {{.MembershipNumber}}
- Amount: {{.AmountDue}}
- Valid until: {{.ExpiresAt.Format "January 2, 2006"}}

Best regards,
The Membership Team`

var upgradeTemplate = `Subject: Membership upgraded to {{.TierName}}

Dear {{.Name}},

Your membership {{.MembershipNumber}} is now {{.TierName}}.

- Amount due: {{.AmountDue}}
- Valid until: {{.ExpiresAt.Format "January 2, 2006"}}

Best regards,
The Membership Team`

func SendVerification(config EmailConfig, data VerificationData) error {
	return sendTemplate(config, data.Email, "verification", verificationTemplate, data)
}

func SendPasswordReset(config EmailConfig, data PasswordResetData) error {
	return sendTemplate(config, data.Email, "password reset", passwordResetTemplate, data)
}

func SendRenewalConfirmation(config EmailConfig, data MembershipChangeData) error {
	return sendTemplate(config, data.Email, "renewal", renewalTemplate, data)
}

func SendUpgradeConfirmation(config EmailConfig, data MembershipChangeData) error {
	return sendTemplate(config, data.Email, "upgrade", upgradeTemplate, data)
}
