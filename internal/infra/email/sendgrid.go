package email

import (
	"context"
	"fmt"
	"net/http"
	netmail "net/mail"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"school_mailman/internal/domain/mail"
	"school_mailman/internal/domain/telemetry"
)

const (
	defaultHost = "https://api.sendgrid.com"
	endpoint    = "/v3/mail/send"
)

// Config is the sink configuration, fixed at process start.
type Config struct {
	APIKey    string
	Host      string // overrides the API host, for tests
	From      netmail.Address
	BatchSize int
	// Sandbox makes the provider validate requests without delivering them.
	Sandbox bool
}

// SendGridSender delivers dynamic-template batches through SendGrid v3.
type SendGridSender struct {
	cfg      Config
	limiter  *Limiter
	reporter telemetry.Reporter
	log      *logrus.Entry
	tracer   trace.Tracer
}

var _ mail.Sender = (*SendGridSender)(nil)

func NewSendGridSender(cfg Config, limiter *Limiter, reporter telemetry.Reporter, log *logrus.Entry) *SendGridSender {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > mail.DefaultBatchLimit {
		cfg.BatchSize = mail.DefaultBatchLimit
	}
	return &SendGridSender{
		cfg:      cfg,
		limiter:  limiter,
		reporter: reporter,
		log:      log,
		tracer:   otel.Tracer("school_mailman/email"),
	}
}

// Send splits the batch into chunks and sends them concurrently. A failed
// chunk is logged and reported; its siblings are unaffected and nothing is
// retried.
func (s *SendGridSender) Send(ctx context.Context, b mail.Batch) mail.Result {
	chunks := mail.Partition(b.Personalizations, s.cfg.BatchSize)
	res := mail.Result{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res
	}

	errs := make([]error, len(chunks))
	var g errgroup.Group
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			errs[i] = s.sendChunk(ctx, b, i, chunk)
			return nil
		})
	}
	_ = g.Wait()

	for i, chunk := range chunks {
		addrs := addresses(chunk)
		if errs[i] == nil {
			res.Delivered = append(res.Delivered, addrs...)
			continue
		}
		res.Failed = append(res.Failed, mail.ChunkFailure{Index: i, Recipients: addrs, Err: errs[i]})
		s.log.WithError(errs[i]).WithFields(logrus.Fields{
			"template":   b.TemplateID,
			"chunk":      i,
			"recipients": len(addrs),
		}).Error("Email chunk failed")
		s.reporter.Report(ctx, telemetry.Report{
			Job: "email",
			Err: errs[i],
			Fields: map[string]any{
				"template":   b.TemplateID,
				"category":   b.Category,
				"chunk":      i,
				"recipients": len(addrs),
			},
		})
	}
	return res
}

func (s *SendGridSender) sendChunk(ctx context.Context, b mail.Batch, index int, chunk []mail.Personalization) (err error) {
	ctx, span := s.tracer.Start(ctx, "email.chunk", trace.WithAttributes(
		attribute.String("template", b.TemplateID),
		attribute.Int("chunk", index),
		attribute.Int("recipients", len(chunk)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body := sgmail.GetRequestBody(s.message(b, chunk))
	return s.limiter.Do(ctx, func(ctx context.Context) error {
		req := sendgrid.GetRequest(s.cfg.APIKey, endpoint, s.cfg.Host)
		req.Method = http.MethodPost
		req.Body = body

		resp, err := sendgrid.MakeRequestWithContext(ctx, req)
		if err != nil {
			return errors.Wrapf(err, "sending chunk %d", index)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return errors.Errorf("sending chunk %d - status: %d - body: %s", index, resp.StatusCode, resp.Body)
		}
		return nil
	})
}

func (s *SendGridSender) message(b mail.Batch, chunk []mail.Personalization) *sgmail.SGMailV3 {
	from := b.From
	if from.Address == "" {
		from = s.cfg.From
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail(from.Name, from.Address))
	m.SetTemplateID(b.TemplateID)

	for _, p := range chunk {
		sp := sgmail.NewPersonalization()
		sp.AddTos(sgmail.NewEmail(p.To.Name, p.To.Address))
		for k, v := range p.CustomArgs {
			sp.SetCustomArg(k, v)
		}
		for k, v := range p.TemplateData {
			sp.SetDynamicTemplateData(k, v)
		}
		m.AddPersonalizations(sp)
	}

	if s.cfg.Sandbox {
		settings := sgmail.NewMailSettings()
		settings.SetSandboxMode(sgmail.NewSetting(true))
		m.SetMailSettings(settings)
		return m
	}

	tracking := sgmail.NewTrackingSettings()
	tracking.SetClickTracking(sgmail.NewClickTrackingSetting().SetEnable(true).SetEnableText(true))
	tracking.SetOpenTracking(sgmail.NewOpenTrackingSetting().SetEnable(true))
	m.SetTrackingSettings(tracking)
	if b.Category != "" {
		m.AddCategories(b.Category)
	}
	return m
}

func addresses(chunk []mail.Personalization) []string {
	out := make([]string, len(chunk))
	for i, p := range chunk {
		out[i] = p.To.Address
	}
	return out
}

// LogSender writes batches to the log instead of sending them.
type LogSender struct {
	BatchSize int
	Log       *logrus.Entry
}

var _ mail.Sender = (*LogSender)(nil)

func (s *LogSender) Send(_ context.Context, b mail.Batch) mail.Result {
	chunks := mail.Partition(b.Personalizations, s.BatchSize)
	res := mail.Result{Chunks: len(chunks)}
	for i, chunk := range chunks {
		for _, p := range chunk {
			s.Log.WithFields(logrus.Fields{
				"template": b.TemplateID,
				"category": b.Category,
				"chunk":    i,
				"to":       p.To.String(),
				"args":     fmt.Sprint(p.CustomArgs),
			}).Info("Email (not sent)")
			res.Delivered = append(res.Delivered, p.To.Address)
		}
	}
	return res
}
