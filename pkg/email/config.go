package email

// Config holds email delivery settings. Postmark tokens are optional: without
// them NewSender falls back to writing messages to DevDir, and without DevDir
// to discarding them.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"no-reply@truthlens.app"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@truthlens.app"`
	DevDir               string `env:"EMAIL_DEV_DIR"`
}
