package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/wneessen/go-mail"

	auth "github.com/goliatone/go-auth-server"
)

const TextCodeDeliveryFailed = "EMAIL_DELIVERY_FAILED"

// Config holds SMTP settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AppName  string
}

type sendFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPNotifier sends welcome emails over SMTP
type SMTPNotifier struct {
	cfg     Config
	welcome *template.Template
	send    sendFunc
	now     func() time.Time
	logger  auth.Logger
}

var _ auth.Notifier = (*SMTPNotifier)(nil)

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
  <body>
    <h1>Welcome to {{ .AppName }}!</h1>
    <p>Hi {{ .FirstName }},</p>
    <p>Your account has been created. You can now sign in with {{ .Email }}.</p>
  </body>
</html>
`))

// NewSMTPNotifier creates a notifier
func NewSMTPNotifier(cfg Config) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.AppName == "" {
		cfg.AppName = "Auth API"
	}
	n := &SMTPNotifier{
		cfg:     cfg,
		welcome: welcomeTemplate,
		now:     time.Now,
		logger:  auth.DefaultLogger(),
	}
	n.send = n.dialAndSend
	return n
}

func (n *SMTPNotifier) WithLogger(l auth.Logger) *SMTPNotifier {
	if l != nil {
		n.logger = l
	}
	return n
}

// WelcomeSubject returns the subject line of the welcome email
func (n *SMTPNotifier) WelcomeSubject() string {
	return fmt.Sprintf("Welcome to %s!", n.cfg.AppName)
}

// SendWelcome renders and sends the welcome email
func (n *SMTPNotifier) SendWelcome(ctx context.Context, user *auth.User) error {
	if user == nil || user.Email == "" {
		return errors.New("welcome email requires a recipient", errors.CategoryBadInput)
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "welcome email cancelled")
	}

	body, err := n.RenderWelcome(user)
	if err != nil {
		return err
	}

	msg, err := n.buildMessage(user.Email, n.WelcomeSubject(), body)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid welcome email address").
			WithMetadata(map[string]any{"user_id": user.ID.String()})
	}

	if err := n.send(ctx, msg); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "failed to deliver welcome email").
			WithTextCode(TextCodeDeliveryFailed).
			WithMetadata(map[string]any{"user_id": user.ID.String()})
	}

	n.logger.Debug("welcome email sent", "user_id", user.ID.String())
	return nil
}

func (n *SMTPNotifier) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	return mail.NewClient(n.cfg.Host, opts...)
}

func (n *SMTPNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := n.newClient()
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// RenderWelcome renders the HTML body of the welcome email
func (n *SMTPNotifier) RenderWelcome(user *auth.User) (string, error) {
	var buf bytes.Buffer
	err := n.welcome.Execute(&buf, map[string]any{
		"AppName":   n.cfg.AppName,
		"FirstName": user.FirstName,
		"Email":     user.Email,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to render welcome email")
	}
	return buf.String(), nil
}

func (n *SMTPNotifier) buildMessage(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return nil, err
	}
	if err := msg.To(to); err != nil {
		return nil, err
	}
	msg.Subject(subject)
	msg.SetDateWithValue(n.now().UTC())
	msg.SetBodyString(mail.TypeTextHTML, body)
	return msg, nil
}

// LogNotifier only logs welcome notifications, used when email is disabled
type LogNotifier struct {
	logger auth.Logger
}

var _ auth.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger auth.Logger) *LogNotifier {
	if logger == nil {
		logger = auth.DefaultLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendWelcome(_ context.Context, user *auth.User) error {
	n.logger.Info("email disabled, skipping welcome email", "user_id", user.ID.String())
	return nil
}
