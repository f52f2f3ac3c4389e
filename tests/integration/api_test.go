package integration

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"refunds-service/config"
	httpHandler "refunds-service/internal/adapter/http/handler"
	redisStorage "refunds-service/internal/adapter/storage/redis"
	"refunds-service/internal/core/ports"
	"refunds-service/internal/gateway"
	"refunds-service/internal/service"
	"refunds-service/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cardlinkTestSecret = "whsec_cardlink_test"
	swiftpayTestSecret = "whsec_swiftpay_test"
	testPassword       = "Str0ngPassw0rd!"
)

// testApp builds the full portal stack over in-memory repos and miniredis.
// This exercises the real HTTP layer, middleware, handlers, services, and
// gateway adapters end-to-end; only postgres is swapped for in-memory fakes
// that mirror its semantics (optimistic versioning, claim takeover).

type testApp struct {
	server    *httptest.Server
	redis     *miniredis.Miniredis
	refunds   *inMemoryRefundRepo
	events    *inMemoryGatewayEventRepo
	anomalies *inMemoryAnomalyRepo
	outbox    *inMemoryOutboxRepo
	audit     *inMemoryAuditRepo
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	ackCache := redisStorage.NewAckCache(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	encSvc, err := service.NewAESEncryptionService("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", 24*time.Hour, "refunds-service-test")

	gateways := gateway.NewRegistry(
		gateway.NewCardlink(cardlinkTestSecret, 5*time.Minute),
		gateway.NewSwiftpay(swiftpayTestSecret, 5*time.Minute),
	)

	refundRepo := newInMemoryRefundRepo()
	ledger := newInMemoryLedger(30 * time.Second)
	eventRepo := newInMemoryGatewayEventRepo()
	anomalyRepo := newInMemoryAnomalyRepo()
	outboxRepo := newInMemoryOutboxRepo()
	accountRepo := newInMemoryBankAccountRepo()
	paramRepo := newInMemoryParameterRepo()
	operatorRepo := newInMemoryOperatorRepo()
	auditRepo := newInMemoryAuditRepo()
	transactor := newInMemoryTransactor()

	log := logger.New("error", false)
	authSvc := service.NewAuthService(operatorRepo, hashSvc, tokenSvc)
	notifier := service.NewNotificationService(outboxRepo, http.DefaultClient, config.NotifierConfig{Enabled: false}, log)
	refundSvc := service.NewRefundService(refundRepo, accountRepo, paramRepo, notifier, transactor, gateways, log)
	reconcileSvc := service.NewReconciliationService(gateways, refundRepo, ledger, eventRepo, anomalyRepo, notifier, ackCache, transactor, config.ReconcileConfig{
		MaxSaveAttempts: 3,
		ClaimTimeout:    30 * time.Second,
		AckCacheTTL:     time.Minute,
		MaxBodyBytes:    1 << 16,
	}, log)
	accountSvc := service.NewBankAccountService(accountRepo, encSvc, log)
	paramSvc := service.NewParameterService(paramRepo, log)
	reportSvc := service.NewReportService(refundRepo, anomalyRepo)
	auditSvc := service.NewAuditService(auditRepo, log)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		RefundSvc:      refundSvc,
		BankAccountSvc: accountSvc,
		ParameterSvc:   paramSvc,
		ReportSvc:      reportSvc,
		ReconcileSvc:   reconcileSvc,
		Gateways:       gateways,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		AuditSvc:       auditSvc,
		MaxBodyBytes:   1 << 16,
		Logger:         log,
	})

	return &testApp{
		server:    httptest.NewServer(router),
		redis:     mr,
		refunds:   refundRepo,
		events:    eventRepo,
		anomalies: anomalyRepo,
		outbox:    outboxRepo,
		audit:     auditRepo,
	}
}

func (a *testApp) close() {
	a.server.Close()
	a.redis.Close()
}

// --- Integration Tests ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	resp, err := http.Get(app.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_RegisterAndLogin(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	regBody, _ := json.Marshal(map[string]string{
		"username": "ops.alice",
		"password": testPassword,
	})
	resp, err := http.Post(app.server.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(regBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var regResp map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&regResp))
	data := regResp["data"].(map[string]interface{})
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, "ops.alice", data["username"])

	loginBody, _ := json.Marshal(map[string]string{
		"username": "ops.alice",
		"password": testPassword,
	})
	resp2, err := http.Post(app.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(loginBody))
	require.NoError(t, err)
	defer resp2.Body.Close()

	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	var loginResp map[string]interface{}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&loginResp))
	loginData := loginResp["data"].(map[string]interface{})
	assert.NotEmpty(t, loginData["token"])
	assert.Greater(t, loginData["expiry"].(float64), float64(time.Now().Unix()))
}

func TestIntegration_LoginWrongCredentials(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	loginBody, _ := json.Marshal(map[string]string{
		"username": "nobody",
		"password": "wrong-password",
	})
	resp, err := http.Post(app.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(loginBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_DuplicateUsername(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	regBody, _ := json.Marshal(map[string]string{
		"username": "ops.alice",
		"password": testPassword,
	})

	resp, err := http.Post(app.server.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(regBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp2, err := http.Post(app.server.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(regBody))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)

	var errResp map[string]interface{}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&errResp))
	assert.Equal(t, "AUTH_002", errResp["error_code"])
}

func TestIntegration_JWT_Unauthorized(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/v1/refunds", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_RefundLifecycle_CardlinkCompletes(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	// Refunds at or above 100 need a second pair of eyes.
	setParameter(t, app, token, "refunds", "approval_threshold", "100")

	refund := createRefund(t, app, token, map[string]interface{}{
		"transaction_ref": "txn_20260825_001",
		"amount":          "250.75",
		"currency":        "EUR",
		"method":          "CARD",
		"reason":          "duplicate charge",
	})
	refundID := refund["id"].(string)
	assert.Equal(t, "DRAFT", refund["status"])
	assert.Equal(t, "250.75", refund["amount"])

	submitted := postTransition(t, app, token, refundID, "submit")
	assert.Equal(t, "PENDING_APPROVAL", submitted["status"])

	approved := postTransition(t, app, token, refundID, "approve")
	assert.Equal(t, "PROCESSING", approved["status"])

	dispatched := dispatchRefund(t, app, token, refundID, "cardlink")
	assert.Equal(t, "GATEWAY_PENDING", dispatched["status"])

	// The gateway settles the refund and notifies us.
	body := cardlinkEvent("evt_cl_001", "cl_ref_9001", refundID, "succeeded")
	resp := postCardlinkWebhook(t, app, body, time.Now())
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ackBody, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(ackBody))

	final := getRefund(t, app, token, refundID)
	assert.Equal(t, "COMPLETED", final["status"])
	assert.Equal(t, "cardlink", final["gateway_id"])
	assert.Equal(t, "cl_ref_9001", final["gateway_reference"])
	history := final["history"].([]interface{})
	require.Len(t, history, 6) // DRAFT, SUBMITTED, PENDING_APPROVAL, PROCESSING, GATEWAY_PENDING, COMPLETED
	last := history[5].(map[string]interface{})
	assert.Equal(t, "COMPLETED", last["status"])
	assert.Equal(t, "gateway:cardlink", last["actor"])
	assert.Equal(t, "evt_cl_001", last["source_event_id"])

	// Terminal transition left a pending outbox event behind.
	pending, err := app.outbox.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "refund.completed", string(pending[0].EventType))

	// Audit entries are written fire-and-forget.
	assert.Eventually(t, func() bool { return app.audit.count() >= 5 }, 2*time.Second, 20*time.Millisecond)
}

func TestIntegration_SubmitBelowThresholdSkipsApproval(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	setParameter(t, app, token, "refunds", "approval_threshold", "100")

	refund := createRefund(t, app, token, map[string]interface{}{
		"transaction_ref": "txn_20260825_002",
		"amount":          "50.25",
		"currency":        "EUR",
		"method":          "CARD",
	})
	submitted := postTransition(t, app, token, refund["id"].(string), "submit")
	assert.Equal(t, "PROCESSING", submitted["status"])
}

func TestIntegration_SubmitCurrencyNotAllowed(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	setParameter(t, app, token, "refunds", "allowed_currencies", "EUR,GBP")

	refund := createRefund(t, app, token, map[string]interface{}{
		"transaction_ref": "txn_20260825_003",
		"amount":          "10.25",
		"currency":        "USD",
		"method":          "CARD",
	})
	submitted := postTransition(t, app, token, refund["id"].(string), "submit")
	assert.Equal(t, "VALIDATION_FAILED", submitted["status"])
}

func TestIntegration_CancelDraft_ThenSubmitConflicts(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	refund := createRefund(t, app, token, map[string]interface{}{
		"transaction_ref": "txn_20260825_004",
		"amount":          "10.25",
		"currency":        "EUR",
		"method":          "CARD",
	})
	refundID := refund["id"].(string)

	canceled := postTransition(t, app, token, refundID, "cancel")
	assert.Equal(t, "CANCELED", canceled["status"])

	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/refunds/"+refundID+"/submit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Canceling emits nothing: the portal initiated it and already knows.
	pending, err := app.outbox.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestIntegration_BankTransferRefund(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	account := createBankAccount(t, app, token, map[string]interface{}{
		"holder_name":    "ACME GmbH",
		"bank_code":      "COBADEFF",
		"account_number": "DE89370400440532013000",
		"currency":       "EUR",
	})
	accountID := account["id"].(string)
	assert.Equal(t, "3000", account["number_last4"])

	refund := createRefund(t, app, token, map[string]interface{}{
		"transaction_ref": "txn_20260825_005",
		"amount":          "75.5",
		"currency":        "EUR",
		"method":          "BANK_TRANSFER",
		"bank_account_id": accountID,
	})
	submitted := postTransition(t, app, token, refund["id"].(string), "submit")
	assert.Equal(t, "PROCESSING", submitted["status"])

	// Disable the account; new refunds against it are refused at creation.
	patchBody, _ := json.Marshal(map[string]interface{}{"status": "DISABLED"})
	req, _ := http.NewRequest(http.MethodPatch, app.server.URL+"/api/v1/bank-accounts/"+accountID, bytes.NewReader(patchBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	createBody, _ := json.Marshal(map[string]interface{}{
		"transaction_ref": "txn_20260825_006",
		"amount":          "20.25",
		"currency":        "EUR",
		"method":          "BANK_TRANSFER",
		"bank_account_id": accountID,
	})
	req2, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/refunds", bytes.NewReader(createBody))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("Authorization", "Bearer "+token)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp2.StatusCode)

	var errResp map[string]interface{}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&errResp))
	assert.Equal(t, "ACC_001", errResp["error_code"])
}

func TestIntegration_BankAccountNumberNeverLeaves(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	const fullNumber = "DE89370400440532013000"
	createBankAccount(t, app, token, map[string]interface{}{
		"holder_name":    "ACME GmbH",
		"bank_code":      "COBADEFF",
		"account_number": fullNumber,
		"currency":       "EUR",
	})

	req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/v1/bank-accounts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(raw), fullNumber)
	assert.Contains(t, string(raw), "3000")
}

func TestIntegration_Parameters_CRUD(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	setParameter(t, app, token, "refunds", "max_amount", "10000")
	setParameter(t, app, token, "refunds", "allowed_currencies", "EUR,GBP,USD")

	req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/v1/parameters/refunds/max_amount", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var getResp map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&getResp))
	assert.Equal(t, "10000", getResp["data"].(map[string]interface{})["value"])

	reqList, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/v1/parameters/refunds", nil)
	reqList.Header.Set("Authorization", "Bearer "+token)
	respList, err := http.DefaultClient.Do(reqList)
	require.NoError(t, err)
	defer respList.Body.Close()
	var listResp map[string]interface{}
	require.NoError(t, json.NewDecoder(respList.Body).Decode(&listResp))
	assert.Len(t, listResp["data"].([]interface{}), 2)

	reqDel, _ := http.NewRequest(http.MethodDelete, app.server.URL+"/api/v1/parameters/refunds/max_amount", nil)
	reqDel.Header.Set("Authorization", "Bearer "+token)
	respDel, err := http.DefaultClient.Do(reqDel)
	require.NoError(t, err)
	respDel.Body.Close()
	assert.Equal(t, http.StatusOK, respDel.StatusCode)

	reqGone, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/v1/parameters/refunds/max_amount", nil)
	reqGone.Header.Set("Authorization", "Bearer "+token)
	respGone, err := http.DefaultClient.Do(reqGone)
	require.NoError(t, err)
	respGone.Body.Close()
	assert.Equal(t, http.StatusNotFound, respGone.StatusCode)
}

func TestIntegration_Webhook_InvalidSignatureLeavesRefundUntouched(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	refundID := dispatchedRefund(t, app, token, "txn_20260825_007", "cardlink")

	body := cardlinkEvent("evt_cl_bad", "cl_ref_bad", refundID, "succeeded")
	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/webhooks/cardlink", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.HeaderCardlinkTimestamp, fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set(gateway.HeaderCardlinkSignature, "deadbeef")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	ackBody, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"rejected"}`, string(ackBody))

	refund := getRefund(t, app, token, refundID)
	assert.Equal(t, "GATEWAY_PENDING", refund["status"])
	assert.Equal(t, 0, app.events.count())
}

func TestIntegration_Webhook_DuplicateDeliveryReplaysAck(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	refundID := dispatchedRefund(t, app, token, "txn_20260825_008", "cardlink")
	body := cardlinkEvent("evt_cl_dup", "cl_ref_dup", refundID, "succeeded")

	first := postCardlinkWebhook(t, app, body, time.Now())
	firstAck, _ := io.ReadAll(first.Body)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postCardlinkWebhook(t, app, body, time.Now())
	secondAck, _ := io.ReadAll(second.Body)
	second.Body.Close()
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.JSONEq(t, string(firstAck), string(secondAck))

	refund := getRefund(t, app, token, refundID)
	assert.Equal(t, "COMPLETED", refund["status"])
	assert.Len(t, refund["history"].([]interface{}), 4) // DRAFT, PROCESSING, GATEWAY_PENDING, COMPLETED
	assert.Equal(t, 1, app.events.count())
}

func TestIntegration_Webhook_SwiftpaySettles(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	refundID := dispatchedRefund(t, app, token, "txn_20260825_009", "swiftpay")

	body, _ := json.Marshal(map[string]interface{}{
		"notification_id": "ntf_sp_001",
		"event_type":      "refund.state_changed",
		"refund": map[string]interface{}{
			"id":          "sp_ref_7001",
			"external_id": refundID,
			"state":       "SETTLED",
		},
	})
	resp := postSwiftpayWebhook(t, app, body, time.Now())
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ackBody, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"received":true}`, string(ackBody))

	refund := getRefund(t, app, token, refundID)
	assert.Equal(t, "COMPLETED", refund["status"])
	assert.Equal(t, "sp_ref_7001", refund["gateway_reference"])
}

func TestIntegration_Webhook_OrphanRecordedAsAnomaly(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	// No refund matches this event; the gateway still must stop redelivering.
	body := cardlinkEvent("evt_cl_orphan", "cl_ref_unknown", "", "succeeded")
	resp := postCardlinkWebhook(t, app, body, time.Now())
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/v1/reports/anomalies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	respList, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer respList.Body.Close()

	assert.Equal(t, http.StatusOK, respList.StatusCode)
	var listResp map[string]interface{}
	require.NoError(t, json.NewDecoder(respList.Body).Decode(&listResp))
	data := listResp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["total"])
	item := data["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "ORPHAN_EVENT", item["kind"])
	assert.Equal(t, "cardlink", item["gateway_id"])
	assert.Equal(t, "evt_cl_orphan", item["event_id"])
}

func TestIntegration_Reports_Summary(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	// One completed refund, one draft left behind.
	refundID := dispatchedRefund(t, app, token, "txn_20260825_010", "cardlink")
	resp := postCardlinkWebhook(t, app, cardlinkEvent("evt_cl_sum", "cl_ref_sum", refundID, "succeeded"), time.Now())
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	createRefund(t, app, token, map[string]interface{}{
		"transaction_ref": "txn_20260825_011",
		"amount":          "5.25",
		"currency":        "EUR",
		"method":          "CARD",
	})

	req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/v1/reports/refunds", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	respSum, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer respSum.Body.Close()

	assert.Equal(t, http.StatusOK, respSum.StatusCode)
	var sumResp map[string]interface{}
	require.NoError(t, json.NewDecoder(respSum.Body).Decode(&sumResp))
	data := sumResp["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])
	assert.Equal(t, float64(1), data["completed"])
	assert.Equal(t, float64(1), data["awaiting_action"])
	totals := data["completed_totals"].([]interface{})
	require.Len(t, totals, 1)
	assert.Equal(t, "EUR", totals[0].(map[string]interface{})["currency"])
	assert.Equal(t, "95.25", totals[0].(map[string]interface{})["total"])
}

func TestIntegration_OutboxRelay_DeliversCallback(t *testing.T) {
	app := newTestApp(t)
	defer app.close()
	token := registerAndLogin(t, app)

	refundID := dispatchedRefund(t, app, token, "txn_20260825_012", "cardlink")
	resp := postCardlinkWebhook(t, app, cardlinkEvent("evt_cl_relay", "cl_ref_relay", refundID, "succeeded"), time.Now())
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var (
		mu       sync.Mutex
		received []map[string]interface{}
	)
	callback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
		mu.Lock()
		received = append(received, envelope)
		mu.Unlock()
		assert.Equal(t, "refund.completed", r.Header.Get("X-Refund-Event"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer callback.Close()

	relay := service.NewNotificationService(app.outbox, callback.Client(), config.NotifierConfig{
		Enabled:      true,
		CallbackURL:  callback.URL,
		PollInterval: 10 * time.Millisecond,
		Timeout:      time.Second,
		MaxAttempts:  3,
		BatchSize:    10,
	}, logger.New("error", false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	envelope := received[0]
	mu.Unlock()
	assert.Equal(t, "refund.completed", envelope["event_type"])
	refundSnapshot := envelope["refund"].(map[string]interface{})
	assert.Equal(t, refundID, refundSnapshot["id"])
	assert.Equal(t, "COMPLETED", refundSnapshot["status"])

	pending, err := app.outbox.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestIntegration_RateLimit_RegisterThrottled(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	// auth_register allows 5 per hour per client.
	for i := 0; i < 5; i++ {
		regBody, _ := json.Marshal(map[string]string{
			"username": fmt.Sprintf("ops.user%d", i),
			"password": testPassword,
		})
		resp, err := http.Post(app.server.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(regBody))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	regBody, _ := json.Marshal(map[string]string{
		"username": "ops.user5",
		"password": testPassword,
	})
	resp, err := http.Post(app.server.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(regBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var errResp map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "RATE_001", errResp["error_code"])
}

// --- Helpers ---

func registerAndLogin(t *testing.T, app *testApp) string {
	t.Helper()
	regBody, _ := json.Marshal(map[string]string{
		"username": "ops.reviewer",
		"password": testPassword,
	})
	resp, err := http.Post(app.server.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(regBody))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	loginBody, _ := json.Marshal(map[string]string{
		"username": "ops.reviewer",
		"password": testPassword,
	})
	resp2, err := http.Post(app.server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(loginBody))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var loginResp map[string]interface{}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&loginResp))
	return loginResp["data"].(map[string]interface{})["token"].(string)
}

func createRefund(t *testing.T, app *testApp, token string, payload map[string]interface{}) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/refunds", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create refund: %s", string(raw))
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope["data"].(map[string]interface{})
}

func createBankAccount(t *testing.T, app *testApp, token string, payload map[string]interface{}) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/bank-accounts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create bank account: %s", string(raw))
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope["data"].(map[string]interface{})
}

func setParameter(t *testing.T, app *testApp, token, scope, key, value string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"value": value})
	req, _ := http.NewRequest(http.MethodPut, app.server.URL+"/api/v1/parameters/"+scope+"/"+key, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func postTransition(t *testing.T, app *testApp, token, refundID, verb string) map[string]interface{} {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/refunds/"+refundID+"/"+verb, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%s refund: %s", verb, string(raw))
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope["data"].(map[string]interface{})
}

func dispatchRefund(t *testing.T, app *testApp, token, refundID, gatewayID string) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"gateway_id": gatewayID})
	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/api/v1/refunds/"+refundID+"/dispatch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode, "dispatch refund: %s", string(raw))
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope["data"].(map[string]interface{})
}

func getRefund(t *testing.T, app *testApp, token, refundID string) map[string]interface{} {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, app.server.URL+"/api/v1/refunds/"+refundID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var envelope map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope["data"].(map[string]interface{})
}

// dispatchedRefund drives a fresh refund to GATEWAY_PENDING on the given
// gateway and returns its id. No approval threshold is set, so submission
// routes straight to PROCESSING.
func dispatchedRefund(t *testing.T, app *testApp, token, transactionRef, gatewayID string) string {
	t.Helper()
	refund := createRefund(t, app, token, map[string]interface{}{
		"transaction_ref": transactionRef,
		"amount":          "95.25",
		"currency":        "EUR",
		"method":          "CARD",
	})
	refundID := refund["id"].(string)
	submitted := postTransition(t, app, token, refundID, "submit")
	require.Equal(t, "PROCESSING", submitted["status"])
	dispatched := dispatchRefund(t, app, token, refundID, gatewayID)
	require.Equal(t, "GATEWAY_PENDING", dispatched["status"])
	return refundID
}

func cardlinkEvent(eventID, refundReference, merchantRefundID, status string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"event_id": eventID,
		"type":     "refund.updated",
		"data": map[string]interface{}{
			"refund_reference":   refundReference,
			"merchant_refund_id": merchantRefundID,
			"status":             status,
		},
	})
	return body
}

func postCardlinkWebhook(t *testing.T, app *testApp, body []byte, at time.Time) *http.Response {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(cardlinkTestSecret))
	mac.Write(body)

	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/webhooks/cardlink", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.HeaderCardlinkTimestamp, fmt.Sprintf("%d", at.Unix()))
	req.Header.Set(gateway.HeaderCardlinkSignature, hex.EncodeToString(mac.Sum(nil)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func postSwiftpayWebhook(t *testing.T, app *testApp, body []byte, at time.Time) *http.Response {
	t.Helper()
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(swiftpayTestSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)

	req, _ := http.NewRequest(http.MethodPost, app.server.URL+"/webhooks/swiftpay", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.HeaderSwiftpaySignature, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}
