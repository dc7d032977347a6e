package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/observability"
	"github.com/boddenberg/boleto-reconciler/internal/infra/resilience"
	"github.com/boddenberg/boleto-reconciler/internal/port"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

var tracer = otel.Tracer("client")

// errMalformedResponse marks a model answer that is not the JSON we asked for.
var errMalformedResponse = errors.New("malformed model response")

// Generator is the slice of the genai Models API the client needs.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

const extractPrompt = `Analise esta imagem de um documento (boleto ou comprovante de pagamento) e extraia:

1. CÓDIGO: a linha digitável ou código de barras (sequência numérica longa, geralmente 44 a 48 dígitos).
2. VALOR: o valor total pago ou a pagar.
3. DATA: a data de pagamento (comprovante) ou de vencimento (boleto), formato DD/MM/AAAA.
4. EMPRESA: nome do beneficiário / cedente / favorecido.
5. PAGADOR: nome de quem paga.

Responda APENAS com JSON puro, sem markdown, exatamente neste formato:
{"codigo": "somente dígitos ou null", "valor": "número com ponto decimal, ex 402.00, ou null", "data": "DD/MM/AAAA ou null", "empresa": "nome ou null", "pagador": "nome ou null"}`

const choosePrompt = `A primeira imagem é um BOLETO. As imagens seguintes são COMPROVANTES numerados a partir de 0, na ordem em que aparecem.
Todos os comprovantes têm o mesmo valor do boleto. Compare beneficiário, código de barras, datas e demais detalhes e diga qual comprovante paga este boleto.
Se nenhum corresponder com segurança, responda -1. Não chute.

Responda APENAS com JSON puro, sem markdown: {"escolha": <número do comprovante ou -1>, "motivo": "explicação curta"}`

// VisionClient calls Gemini for structured extraction and disambiguation.
type VisionClient struct {
	gen     Generator
	model   string
	cb      *gobreaker.CircuitBreaker
	cfg     resilience.Config
	limiter *resilience.Limiter
	timeout time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewGeminiGenerator builds the genai client for the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey string) (Generator, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return c.Models, nil
}

// NewVisionClient creates a VisionClient.
func NewVisionClient(
	gen Generator,
	model string,
	cb *gobreaker.CircuitBreaker,
	cfg resilience.Config,
	limiter *resilience.Limiter,
	timeout time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *VisionClient {
	return &VisionClient{
		gen:     gen,
		model:   model,
		cb:      cb,
		cfg:     cfg,
		limiter: limiter,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

var (
	_ port.VisionExtractor     = (*VisionClient)(nil)
	_ port.VisionDisambiguator = (*VisionClient)(nil)
)

// ExtractFields asks the model for the fixed-shape field set of one image.
func (c *VisionClient) ExtractFields(ctx context.Context, image []byte, mimeType string) (*port.VisionFields, error) {
	ctx, span := tracer.Start(ctx, "VisionClient.ExtractFields")
	defer span.End()
	span.SetAttributes(attribute.Int("image.bytes", len(image)))

	parts := []*genai.Part{
		{Text: extractPrompt},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
	}

	obj, err := c.generateJSON(ctx, parts, compiledFields)
	if err != nil {
		return nil, err
	}

	return &port.VisionFields{
		Code:        stringField(obj, "codigo"),
		Amount:      stringField(obj, "valor"),
		Date:        stringField(obj, "data"),
		Beneficiary: stringField(obj, "empresa"),
		Payer:       stringField(obj, "pagador"),
	}, nil
}

// ChooseProof shows the charge and every tied candidate at once and returns
// the chosen candidate position, or -1 when the model declines.
func (c *VisionClient) ChooseProof(ctx context.Context, charge []byte, candidates [][]byte) (int, error) {
	ctx, span := tracer.Start(ctx, "VisionClient.ChooseProof")
	defer span.End()
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	parts := []*genai.Part{
		{Text: choosePrompt},
		{Text: "BOLETO:"},
		{InlineData: &genai.Blob{MIMEType: string(domain.DetectKind("", charge)), Data: charge}},
	}
	for i, cand := range candidates {
		parts = append(parts,
			&genai.Part{Text: fmt.Sprintf("COMPROVANTE %d:", i)},
			&genai.Part{InlineData: &genai.Blob{MIMEType: string(domain.DetectKind("", cand)), Data: cand}},
		)
	}

	obj, err := c.generateJSON(ctx, parts, compiledChoice)
	if err != nil {
		return -1, err
	}

	choice, _ := obj["escolha"].(float64)
	pick := int(choice)
	if pick >= len(candidates) {
		return -1, &domain.ErrExternalService{
			Service: "vision",
			Err:     fmt.Errorf("%w: choice %d out of range (%d candidates)", errMalformedResponse, pick, len(candidates)),
		}
	}
	if motivo, ok := obj["motivo"].(string); ok {
		c.logger.Debug("vision disambiguation", zap.Int("choice", pick), zap.String("reason", motivo))
	}
	return pick, nil
}

// generateJSON runs one model call behind limiter, breaker and retry, and
// returns the validated JSON object.
func (c *VisionClient) generateJSON(ctx context.Context, parts []*genai.Part, schema *jsonschema.Schema) (map[string]any, error) {
	start := time.Now()
	defer func() { c.metrics.RecordStageDuration("vision", time.Since(start)) }()

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}

	result, err := c.cb.Execute(func() (any, error) {
		var obj map[string]any
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return resilience.Permanent(err)
			}

			callCtx := ctx
			if c.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.timeout)
				defer cancel()
			}

			resp, err := c.gen.GenerateContent(callCtx, c.model, contents, config)
			if err != nil {
				return classify(err)
			}

			raw := ""
			if resp != nil {
				raw = resp.Text()
			}
			if strings.TrimSpace(raw) == "" {
				return fmt.Errorf("%w: empty response", errMalformedResponse)
			}

			decoded, err := validateJSON(schema, []byte(cleanModelJSON(raw)))
			if err != nil {
				return fmt.Errorf("%w: %v", errMalformedResponse, err)
			}
			obj = decoded
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return obj, nil
	})

	if err != nil {
		c.metrics.IncrExternalError("vision")
		if resilience.IsBreakerOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "vision"}
		}
		c.logger.Warn("vision call failed", zap.Error(err))
		return nil, &domain.ErrExternalService{Service: "vision", Err: err}
	}
	return result.(map[string]any), nil
}

// classify maps provider errors onto the retry policy: throttling becomes
// domain.ErrRateLimited, client errors are permanent, the rest is retryable.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
			return fmt.Errorf("%w: %s", domain.ErrRateLimited, apiErr.Message)
		case apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusRequestTimeout:
			return resilience.Permanent(err)
		}
		return err
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
	}
	return err
}
