package billing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/model"
	"github.com/tokengate/tokengate/internal/repository"
)

const testWebhookSecret = "whsec_test_secret"

type appliedCredit struct {
	eventID string
	userID  string
	amount  int64
}

type fakeStore struct {
	users         map[string]*model.User
	byCustomer    map[string]*model.User
	credits       []appliedCredit
	subscriptions map[string]time.Time
	seenEvents    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]*model.User),
		byCustomer:    make(map[string]*model.User),
		subscriptions: make(map[string]time.Time),
		seenEvents:    make(map[string]bool),
	}
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	user, ok := f.byCustomer[customerID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	user, ok := f.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.StripeCustomerID = &customerID
	f.byCustomer[customerID] = user
	return nil
}

func (f *fakeStore) ApplyCreditPurchase(ctx context.Context, eventID, userID string, amount int64) (bool, error) {
	if f.seenEvents[eventID] {
		return false, nil
	}
	f.seenEvents[eventID] = true
	f.credits = append(f.credits, appliedCredit{eventID: eventID, userID: userID, amount: amount})
	return true, nil
}

func (f *fakeStore) ApplySubscriptionPayment(ctx context.Context, eventID, userID string, expiresAt time.Time) (bool, error) {
	if f.seenEvents[eventID] {
		return false, nil
	}
	f.seenEvents[eventID] = true
	f.subscriptions[userID] = expiresAt
	return true, nil
}

func testService(store Store) *Service {
	cfg := &config.Config{
		StripeSecretKey:     "sk_test_key",
		StripeWebhookSecret: testWebhookSecret,
		SubscriptionPeriod:  720 * time.Hour,
		SubscriptionGrace:   72 * time.Hour,
		MinCreditPurchase:   500,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(cfg, store, logger)
}

func signPayload(t *testing.T, payload []byte) string {
	t.Helper()
	ts := time.Now()
	sig := webhook.ComputeSignature(ts, payload, testWebhookSecret)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}

func TestProcessWebhookBadSignature(t *testing.T) {
	svc := testService(newFakeStore())

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{}}}`)
	err := svc.ProcessWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestProcessWebhookCreditPurchase(t *testing.T) {
	store := newFakeStore()
	svc := testService(store)

	payload := []byte(`{
		"id": "evt_credit_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"mode": "payment",
			"amount_total": 2500,
			"metadata": {"user_id": "user-1"}
		}}
	}`)

	if err := svc.ProcessWebhook(context.Background(), payload, signPayload(t, payload)); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	if len(store.credits) != 1 {
		t.Fatalf("credits applied = %d, want 1", len(store.credits))
	}
	got := store.credits[0]
	if got.eventID != "cs_test_1" || got.userID != "user-1" || got.amount != 2500 {
		t.Errorf("applied = %+v", got)
	}
}

func TestProcessWebhookDuplicateCreditsOnce(t *testing.T) {
	store := newFakeStore()
	svc := testService(store)

	payload := []byte(`{
		"id": "evt_credit_2",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_dup",
			"mode": "payment",
			"amount_total": 1000,
			"metadata": {"user_id": "user-1"}
		}}
	}`)

	for i := 0; i < 3; i++ {
		if err := svc.ProcessWebhook(context.Background(), payload, signPayload(t, payload)); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if len(store.credits) != 1 {
		t.Fatalf("credits applied = %d, want exactly 1 across replays", len(store.credits))
	}
}

func TestProcessWebhookSubscriptionCheckout(t *testing.T) {
	store := newFakeStore()
	svc := testService(store)

	payload := []byte(`{
		"id": "evt_sub_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_sub",
			"mode": "subscription",
			"metadata": {"user_id": "user-2"}
		}}
	}`)

	before := time.Now()
	if err := svc.ProcessWebhook(context.Background(), payload, signPayload(t, payload)); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}

	expiry, ok := store.subscriptions["user-2"]
	if !ok {
		t.Fatal("subscription not extended")
	}
	wantMin := before.Add(720*time.Hour + 72*time.Hour)
	if expiry.Before(wantMin) {
		t.Errorf("expiry = %v, want >= %v (period + grace)", expiry, wantMin)
	}
}

func TestProcessWebhookInvoicePaid(t *testing.T) {
	store := newFakeStore()
	customerID := "cus_123"
	store.users["user-3"] = &model.User{ID: "user-3", Email: "u3@example.com"}
	store.byCustomer[customerID] = store.users["user-3"]
	svc := testService(store)

	payload := []byte(`{
		"id": "evt_inv_1",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"id": "in_test_1",
			"customer": {"id": "cus_123"}
		}}
	}`)

	if err := svc.ProcessWebhook(context.Background(), payload, signPayload(t, payload)); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if _, ok := store.subscriptions["user-3"]; !ok {
		t.Fatal("subscription not extended from invoice")
	}
}

func TestProcessWebhookLapseAndUnknownEventsAcknowledged(t *testing.T) {
	store := newFakeStore()
	svc := testService(store)

	for _, eventType := range []string{
		"customer.subscription.deleted",
		"invoice.payment_failed",
		"charge.refunded",
	} {
		payload := []byte(`{"id":"evt_x","type":"` + eventType + `","data":{"object":{}}}`)
		if err := svc.ProcessWebhook(context.Background(), payload, signPayload(t, payload)); err != nil {
			t.Errorf("%s: err = %v, want acknowledged", eventType, err)
		}
	}

	if len(store.credits) != 0 || len(store.subscriptions) != 0 {
		t.Error("lapse/unknown events must not mutate state")
	}
}
