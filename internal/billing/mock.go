package billing

import (
	"context"
	"fmt"
	"sync"

	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/obs"
	"github.com/kuitang/plansite/internal/terms"
)

// MockService implements BillingService for test mode (--test flag).
// Checkout completes immediately: signed-in purchases activate at once.
type MockService struct {
	store *SubscriptionStore

	mu       sync.Mutex
	sessions map[string]mockSession
	seq      int
}

type mockSession struct {
	email string
	term  terms.Term
}

// NewMockService creates a mock billing service. store may be nil.
func NewMockService(store *SubscriptionStore) *MockService {
	obs.Pkg("billing").Info("using mock billing service")
	return &MockService{store: store, sessions: make(map[string]mockSession)}
}

// IsMock returns true for mock service.
func (m *MockService) IsMock() bool { return true }

// PublishableKey returns empty string in mock mode.
func (m *MockService) PublishableKey() string { return "" }

// CreateCheckoutSession returns a fake client secret and activates the plan for signed-in users.
func (m *MockService) CreateCheckoutSession(ctx context.Context, userID, email string, term terms.Term, baseURL string) (string, error) {
	if !term.Valid() {
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("invalid plan term: %q", term))
	}
	obs.From(ctx).Info("mock checkout", "user_id", userID, "term", string(term))

	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("mock_cs_%d", m.seq)
	m.sessions[id] = mockSession{email: email, term: term}
	m.mu.Unlock()

	if userID != "" && m.store != nil {
		err := m.store.Activate(ctx, Activation{
			UserID:               userID,
			Term:                 term,
			StripeCustomerID:     "cus_mock_" + userID,
			StripeSubscriptionID: "sub_" + id,
		})
		if err != nil {
			return "", err
		}
	}
	return id + "_secret_" + term.Slug(), nil
}

// CreatePortalSession returns a mock URL.
func (m *MockService) CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (string, error) {
	obs.From(ctx).Info("mock portal session", "stripe_customer_id", stripeCustomerID)
	return returnURL + "?mock_portal=true", nil
}

// GetSessionStatus reports every known session as complete.
func (m *MockService) GetSessionStatus(ctx context.Context, sessionID string) (string, string, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return "complete", "mock@example.com", nil
	}
	return "complete", sess.email, nil
}

// HandleWebhook is a no-op in mock mode.
func (m *MockService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	obs.From(ctx).Debug("mock webhook ignored", "bytes", len(payload))
	return nil
}
