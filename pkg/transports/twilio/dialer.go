package twilio

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	ErrMissingCredentials = errors.New("twilio: account_sid and auth_token are required")
	ErrInvalidNumber      = errors.New("twilio: phone numbers must be E.164")
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

type DialOptions struct {
	// SendDigits is played once the call connects, e.g. to get through an
	// IVR menu before the speech starts.
	SendDigits string
	// StatusCallback defaults to the source's status route.
	StatusCallback string
	// Inline embeds the stream TwiML in the request instead of pointing the
	// call at the voice webhook. It requires a public URL.
	Inline bool
}

// Dialer places outbound calls whose audio is streamed back to a Source, so
// the far end of the call is what gets subtitled.
type Dialer struct {
	cfg    Config
	client callCreator
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

// Dial calls `to` from `from`. An empty url uses the voice webhook.
func (d *Dialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	return d.DialWithOptions(ctx, to, from, url, DialOptions{})
}

// DialWithOptions returns the call SID.
func (d *Dialer) DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !e164.MatchString(to) || !e164.MatchString(from) {
		return "", fmt.Errorf("%w: to=%q from=%q", ErrInvalidNumber, to, from)
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", ErrMissingCredentials
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	switch {
	case url != "":
		params.SetUrl(url)
	case opts.Inline:
		if d.cfg.PublicURL == "" {
			return "", errors.New("twilio: inline dial needs public_url")
		}
		params.SetTwiml(streamTwiML(publicURL(d.cfg, "wss", d.cfg.WebsocketPath), d.cfg.VoiceGreeting))
	default:
		params.SetUrl(publicURL(d.cfg, "https", d.cfg.VoicePath))
	}
	if digits := strings.TrimSpace(opts.SendDigits); digits != "" {
		params.SetSendDigits(digits)
	}
	callback := opts.StatusCallback
	if callback == "" && d.cfg.PublicURL != "" {
		callback = publicURL(d.cfg, "https", d.cfg.StatusCallbackPath)
	}
	if callback != "" {
		params.SetStatusCallback(callback)
		params.SetStatusCallbackEvent([]string{"completed"})
	}

	resp, err := d.creator().CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio: create call: %w", err)
	}
	if resp == nil || resp.Sid == nil {
		return "", errors.New("twilio: create call returned no sid")
	}
	return *resp.Sid, nil
}

func (d *Dialer) creator() callCreator {
	if d.client != nil {
		return d.client
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: d.cfg.AccountSID,
		Password: d.cfg.AuthToken,
	})
	return rest.Api
}
