// Package polly implements the cloud TTS provider backed by Amazon Polly.
//
// Credentials are resolved entirely by the AWS SDK's default chain
// (environment, shared config, instance roles); they never pass through the
// provider's own settings and are never logged. Polly voices may be updated
// server side between runs, so the provider declares itself
// non-deterministic: identical input is not guaranteed to produce identical
// bytes, and it is excluded from the synthesis cache and checksum stability
// guarantees.
package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/polly"
	"github.com/aws/aws-sdk-go/service/polly/pollyiface"
	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/openvoicepacks/ovp/internal/audio"
	"github.com/openvoicepacks/ovp/internal/provider"
	"github.com/openvoicepacks/ovp/internal/voice"
	"github.com/openvoicepacks/ovp/internal/voicepack"
)

// ProviderID is the id packs use to select this backend.
const ProviderID = "polly"

const (
	// pcmSampleRate is the only PCM rate Polly supports that matches the
	// firmware target, which conveniently makes conversion a passthrough.
	pcmSampleRate = 16000

	// defaultRPS bounds outbound synthesis calls client side, below
	// Polly's default standard-voice throttle.
	defaultRPS = 8

	synthesisTimeout = 30 * time.Second
)

func init() {
	provider.Register(ProviderID, func(settings map[string]string) (provider.Provider, error) {
		return New(settings)
	})
}

// Provider synthesizes speech through the Amazon Polly API. Safe for
// concurrent use; the SDK client is goroutine-safe and the rate limiter
// serializes nothing beyond the request budget.
type Provider struct {
	client  pollyiface.PollyAPI
	limiter *rate.Limiter
}

// New constructs the Polly provider. Recognized settings: "region"
// (optional, otherwise the SDK default chain decides) and
// "requests_per_second".
func New(settings map[string]string) (*Provider, error) {
	cfg := aws.NewConfig()
	if region := settings["region"]; region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create AWS session: %w", err)
	}

	rps := defaultRPS
	if v := settings["requests_per_second"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid requests_per_second %q", v)
		}
		rps = n
	}

	return &Provider{
		client:  polly.New(sess),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// ID implements provider.Provider.
func (p *Provider) ID() string { return ProviderID }

// Capabilities implements provider.Provider. Polly accepts plain text and
// SSML and is declared non-deterministic (see package comment).
func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Markup:        []voicepack.Markup{voicepack.MarkupPlain, voicepack.MarkupSSML},
		Deterministic: false,
		Online:        true,
	}
}

// ListVoices enumerates the Polly voice catalog.
func (p *Provider) ListVoices(ctx context.Context) ([]voice.Model, error) {
	var models []voice.Model
	input := &polly.DescribeVoicesInput{}
	for {
		out, err := p.client.DescribeVoicesWithContext(ctx, input)
		if err != nil {
			return nil, mapAWSError(err)
		}
		for _, v := range out.Voices {
			if v.Id == nil || v.LanguageCode == nil {
				continue
			}
			engines := make([]string, 0, len(v.SupportedEngines))
			for _, e := range v.SupportedEngines {
				engines = append(engines, aws.StringValue(e))
			}
			models = append(models, voice.Model{
				Provider: ProviderID,
				Voice:    strings.ToLower(aws.StringValue(v.Id)),
				Language: aws.StringValue(v.LanguageCode),
				Options:  map[string]string{"engines": strings.Join(engines, ",")},
			})
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	if len(models) == 0 {
		return nil, provider.ErrNoVoices
	}
	return models, nil
}

// Synthesize implements provider.Provider. Output is 16-bit mono PCM at
// 16 kHz, Polly's native PCM delivery for that rate.
func (p *Provider) Synthesize(ctx context.Context, phrase voicepack.Phrase, model voice.Model) (audio.Clip, error) {
	caps := p.Capabilities()
	if !caps.SupportsMarkup(phrase.Markup) {
		return audio.Clip{}, &provider.UnsupportedMarkupError{Provider: ProviderID, Markup: phrase.Markup}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return audio.Clip{}, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	textType := polly.TextTypeText
	if phrase.Markup == voicepack.MarkupSSML {
		textType = polly.TextTypeSsml
	}

	input := &polly.SynthesizeSpeechInput{
		Text:         aws.String(phrase.Text),
		TextType:     aws.String(textType),
		VoiceId:      aws.String(pollyVoiceID(model.Voice)),
		LanguageCode: aws.String(model.Language),
		Engine:       aws.String(model.Option("engine", polly.EngineStandard)),
		OutputFormat: aws.String(polly.OutputFormatPcm),
		SampleRate:   aws.String(strconv.Itoa(pcmSampleRate)),
	}

	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	out, err := p.client.SynthesizeSpeechWithContext(ctx, input)
	if err != nil {
		return audio.Clip{}, mapAWSError(err)
	}
	defer out.AudioStream.Close() //nolint:errcheck

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: reading audio stream: %v", provider.ErrUnavailable, err)
	}

	log.Debug("polly synthesis complete", "phrase", phrase.ID, "bytes", len(data))
	return audio.Clip{
		Data:     data,
		Encoding: audio.Encoding{SampleRate: pcmSampleRate, Channels: 1, BitDepth: 16},
	}, nil
}

// pollyVoiceID converts the catalog's lowercase voice identity back to
// Polly's capitalized VoiceId form ("amy" -> "Amy").
func pollyVoiceID(v string) string {
	if v == "" {
		return v
	}
	return strings.ToUpper(v[:1]) + v[1:]
}

// mapAWSError folds SDK errors into the provider taxonomy: throttling is
// retryable, everything transport or auth shaped is ErrUnavailable.
func mapAWSError(err error) error {
	if err == nil {
		return nil
	}
	if request.IsErrorThrottle(err) {
		return fmt.Errorf("%w: %v", provider.ErrThrottled, err)
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %v", provider.ErrThrottled, err)
		case polly.ErrCodeInvalidSsmlException, polly.ErrCodeTextLengthExceededException:
			// Content problems are not transient; report them as-is.
			return fmt.Errorf("polly rejected input: %w", err)
		}
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
}
