package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/entity"
	"github.com/evocrestco/api-exchange-core-sub000/message"
	"github.com/evocrestco/api-exchange-core-sub000/processor"
	"github.com/evocrestco/api-exchange-core-sub000/queue"
	"github.com/evocrestco/api-exchange-core-sub000/tenant"
)

// scriptedProcessor returns a canned result or error and records the tenant
// it observed.
type scriptedProcessor struct {
	result     *processor.ProcessingResult
	err        error
	seenTenant string
}

func (p *scriptedProcessor) Process(ctx context.Context, _ *message.Message) (*processor.ProcessingResult, error) {
	p.seenTenant, _ = tenant.FromContext(ctx)
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

// capturingPublisher records published messages in memory.
type capturingPublisher struct {
	queues map[string][]*message.Message
	err    error
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{queues: make(map[string][]*message.Message)}
}

func (p *capturingPublisher) Publish(_ context.Context, queueName string, msg *message.Message) error {
	if p.err != nil {
		return p.err
	}
	p.queues[queueName] = append(p.queues[queueName], msg)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func triggerConfig() processor.Config {
	return processor.Config{
		ProcessingConfig: entity.ProcessingConfig{ProcessorName: "trigger-test"},
	}
}

func envelopeBody(t *testing.T, externalID string) string {
	t.Helper()
	msg := message.NewMessage(message.EntityReference{
		EntityID:      "e1",
		ExternalID:    externalID,
		CanonicalType: "order",
		Source:        "crm",
		TenantID:      "T1",
	}, map[string]interface{}{"a": 1})
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(raw)
}

func doRequest(t *testing.T, trigger *HTTPTrigger, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := NewEchoServer(DefaultServerConfig())
	trigger.Register(e)

	req := httptest.NewRequest(http.MethodPost, "/process", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHTTPTrigger_Success(t *testing.T) {
	proc := &scriptedProcessor{result: processor.NewSuccessResult()}
	h := processor.NewHandler(proc, triggerConfig(), nil, nil, nil, nil)
	trigger := NewHTTPTrigger(h, nil, nil)

	rec := doRequest(t, trigger, envelopeBody(t, "ORD-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "T1", proc.seenTenant, "tenant from the envelope reaches the processor")

	var result processor.ProcessingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
}

func TestHTTPTrigger_RoutesOutputMessages(t *testing.T) {
	out := message.NewMessage(message.EntityReference{
		ExternalID: "ORD-1", CanonicalType: "order", Source: "crm", TenantID: "T1",
	}, nil)
	result := processor.NewSuccessResult()
	result.AddOutputMessage(out)

	proc := &scriptedProcessor{result: result}
	h := processor.NewHandler(proc, triggerConfig(), nil, nil, nil, nil)
	pub := newCapturingPublisher()
	trigger := NewHTTPTrigger(h, queue.NewOutputRouter(pub, "next", nil), nil)

	rec := doRequest(t, trigger, envelopeBody(t, "ORD-1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.queues["next"], 1)
	assert.Equal(t, out.MessageID, pub.queues["next"][0].MessageID)
}

func TestHTTPTrigger_RoutingFailureIsBadGateway(t *testing.T) {
	result := processor.NewSuccessResult()
	result.AddOutputMessage(message.NewMessage(message.EntityReference{
		ExternalID: "ORD-1", CanonicalType: "order", Source: "crm", TenantID: "T1",
	}, nil))

	proc := &scriptedProcessor{result: result}
	h := processor.NewHandler(proc, triggerConfig(), nil, nil, nil, nil)
	pub := newCapturingPublisher()
	pub.err = assert.AnError
	trigger := NewHTTPTrigger(h, queue.NewOutputRouter(pub, "next", nil), nil)

	rec := doRequest(t, trigger, envelopeBody(t, "ORD-1"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHTTPTrigger_TransientFailureIsServiceUnavailable(t *testing.T) {
	proc := &scriptedProcessor{err: common.NewServiceError(common.CodeIntegrationError, "downstream gone", nil)}
	h := processor.NewHandler(proc, triggerConfig(), nil, nil, nil, nil)
	trigger := NewHTTPTrigger(h, nil, nil)

	rec := doRequest(t, trigger, envelopeBody(t, "ORD-1"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var result processor.ProcessingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, common.CodeServiceError, result.ErrorCode)
	assert.True(t, result.CanRetry)
}

func TestHTTPTrigger_PermanentFailureIsUnprocessable(t *testing.T) {
	proc := &scriptedProcessor{err: common.NewValidationError("bad payload")}
	h := processor.NewHandler(proc, triggerConfig(), nil, nil, nil, nil)
	trigger := NewHTTPTrigger(h, nil, nil)

	rec := doRequest(t, trigger, envelopeBody(t, "ORD-1"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var result processor.ProcessingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, common.CodeValidationError, result.ErrorCode)
	assert.False(t, result.CanRetry)
}

func TestHTTPTrigger_MalformedBody(t *testing.T) {
	proc := &scriptedProcessor{result: processor.NewSuccessResult()}
	h := processor.NewHandler(proc, triggerConfig(), nil, nil, nil, nil)
	trigger := NewHTTPTrigger(h, nil, nil)

	rec := doRequest(t, trigger, "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPTrigger_Healthz(t *testing.T) {
	proc := &scriptedProcessor{result: processor.NewSuccessResult()}
	h := processor.NewHandler(proc, triggerConfig(), nil, nil, nil, nil)
	trigger := NewHTTPTrigger(h, nil, nil)

	e := NewEchoServer(DefaultServerConfig())
	trigger.Register(e)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
