// Package contactform implements the Lambda backend for the website contact
// form: it validates submissions and relays them by email through SES.
package contactform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sesv2types "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
)

// maxFieldLength caps every submitted field after tag stripping.
const maxFieldLength = 5000

var (
	emailPattern   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
)

// MailAPI is the slice of the SES client the handler uses.
type MailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Config carries the addresses and CORS origin for the handler.
type Config struct {
	Sender        string
	Recipient     string
	AllowedOrigin string
}

// ConfigFromEnv reads the handler configuration from the Lambda environment.
func ConfigFromEnv() Config {
	cfg := Config{
		Sender:        os.Getenv("SENDER_EMAIL"),
		Recipient:     os.Getenv("RECIPIENT_EMAIL"),
		AllowedOrigin: os.Getenv("ALLOWED_ORIGIN"),
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	return cfg
}

// Handler processes contact form submissions arriving through a Lambda
// function URL.
type Handler struct {
	mail MailAPI
	cfg  Config
	log  zerolog.Logger
}

func NewHandler(mail MailAPI, cfg Config, log zerolog.Logger) *Handler {
	return &Handler{
		mail: mail,
		cfg:  cfg,
		log:  log.With().Str("component", "contactform").Logger(),
	}
}

type submission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (s *submission) sanitize() {
	s.Name = sanitize(s.Name)
	s.Email = sanitize(s.Email)
	s.Message = sanitize(s.Message)
}

func (s *submission) validate() []string {
	var problems []string
	if len(s.Name) < 2 {
		problems = append(problems, "Name is required (minimum 2 characters)")
	}
	if s.Email == "" {
		problems = append(problems, "Email is required")
	} else if !emailPattern.MatchString(s.Email) {
		problems = append(problems, "Invalid email format")
	}
	if len(s.Message) < 10 {
		problems = append(problems, "Message is required (minimum 10 characters)")
	}
	return problems
}

// sanitize strips HTML tags and caps the field length.
func sanitize(text string) string {
	text = htmlTagPattern.ReplaceAllString(text, "")
	if len(text) > maxFieldLength {
		text = text[:maxFieldLength]
	}
	return text
}

// Handle is the Lambda entrypoint. Errors are reported to the caller as HTTP
// responses; the returned error stays nil so the function URL relays them.
func (h *Handler) Handle(ctx context.Context, req events.LambdaFunctionURLRequest) (events.LambdaFunctionURLResponse, error) {
	if req.RequestContext.HTTP.Method == http.MethodOptions {
		return h.respond(http.StatusOK, map[string]string{"message": "OK"})
	}

	form, err := parseBody(req)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to parse request body")
		return h.respond(http.StatusBadRequest, map[string]string{"error": "Invalid JSON in request body"})
	}

	form.sanitize()
	if problems := form.validate(); len(problems) > 0 {
		return h.respond(http.StatusBadRequest, map[string]interface{}{
			"error":   "Validation failed",
			"details": problems,
		})
	}

	if h.cfg.Sender == "" || h.cfg.Recipient == "" {
		h.log.Error().Msg("missing SENDER_EMAIL or RECIPIENT_EMAIL configuration")
		return h.respond(http.StatusInternalServerError, map[string]string{"error": "Server configuration error"})
	}

	if err := h.send(ctx, form); err != nil {
		h.log.Error().Err(err).Msg("failed to send email")
		return h.respond(http.StatusInternalServerError, map[string]string{"error": "Failed to send message. Please try again later."})
	}

	return h.respond(http.StatusOK, map[string]string{"message": "Thank you for your message. I will get back to you soon."})
}

func parseBody(req events.LambdaFunctionURLRequest) (submission, error) {
	var form submission
	raw := req.Body
	if raw == "" {
		return form, nil
	}
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return form, err
		}
		raw = string(decoded)
	}
	if err := json.Unmarshal([]byte(raw), &form); err != nil {
		return form, err
	}
	return form, nil
}

func (h *Handler) send(ctx context.Context, form submission) error {
	subject := fmt.Sprintf("Contact Form Submission from %s", form.Name)
	text := fmt.Sprintf(`New contact form submission:

Name: %s
Email: %s

Message:
%s
`, form.Name, form.Email, form.Message)
	html := fmt.Sprintf(`<html>
<head></head>
<body>
<h2>New Contact Form Submission</h2>
<p><strong>Name:</strong> %s</p>
<p><strong>Email:</strong> <a href="mailto:%s">%s</a></p>
<h3>Message:</h3>
<p>%s</p>
</body>
</html>`, form.Name, form.Email, form.Email, strings.ReplaceAll(form.Message, "\n", "<br>"))

	out, err := h.mail.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(h.cfg.Sender),
		Destination: &sesv2types.Destination{
			ToAddresses: []string{h.cfg.Recipient},
		},
		ReplyToAddresses: []string{form.Email},
		Content: &sesv2types.EmailContent{
			Simple: &sesv2types.Message{
				Subject: &sesv2types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sesv2types.Body{
					Text: &sesv2types.Content{
						Data:    aws.String(text),
						Charset: aws.String("UTF-8"),
					},
					Html: &sesv2types.Content{
						Data:    aws.String(html),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	})
	if err != nil {
		return err
	}

	h.log.Info().Str("message_id", aws.ToString(out.MessageId)).Msg("contact email sent")
	return nil
}

func (h *Handler) respond(status int, body interface{}) (events.LambdaFunctionURLResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return events.LambdaFunctionURLResponse{StatusCode: http.StatusInternalServerError}, err
	}
	return events.LambdaFunctionURLResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":                 "application/json",
			"Access-Control-Allow-Origin":  h.cfg.AllowedOrigin,
			"Access-Control-Allow-Headers": "Content-Type",
			"Access-Control-Allow-Methods": "POST, OPTIONS",
		},
		Body: string(payload),
	}, nil
}
