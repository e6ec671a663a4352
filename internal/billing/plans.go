package billing

import (
	"fmt"

	"go.etcd.io/bbolt"
)

// Plan identifies a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

// Unlimited is the sentinel quota for plans without a monthly scan cap.
const Unlimited = -1

// scanQuotas maps each plan to its monthly receipt-scan quota.
var scanQuotas = map[Plan]int{
	PlanFree:    10,
	PlanPro:     100,
	PlanPremium: Unlimited,
}

// ScanQuota returns the monthly scan quota for a plan. Unknown plans get the
// free quota.
func ScanQuota(p Plan) int {
	if quota, ok := scanQuotas[p]; ok {
		return quota
	}
	return scanQuotas[PlanFree]
}

// PlanStore resolves and updates the subscription plan for a user.
type PlanStore interface {
	// GetPlan returns the user's plan, defaulting to free when unset.
	GetPlan(userID string) (Plan, error)

	// SetPlan records the user's plan.
	SetPlan(userID string, plan Plan) error
}

// QuotaResolver adapts a PlanStore into the scan limit lookup the usage
// meter needs.
type QuotaResolver struct {
	store PlanStore
}

// NewQuotaResolver creates a QuotaResolver over the given store.
func NewQuotaResolver(store PlanStore) *QuotaResolver {
	return &QuotaResolver{store: store}
}

// ScanLimit returns the monthly scan limit for the user's current plan.
func (q *QuotaResolver) ScanLimit(userID string) (int, error) {
	plan, err := q.store.GetPlan(userID)
	if err != nil {
		return 0, err
	}
	return ScanQuota(plan), nil
}

const planBucketName = "plans"

// BoltPlanStore implements PlanStore on a bbolt bucket.
type BoltPlanStore struct {
	db *bbolt.DB
}

// NewBoltPlanStore creates the plans bucket if needed.
func NewBoltPlanStore(db *bbolt.DB) (*BoltPlanStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(planBucketName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating plans bucket: %w", err)
	}
	return &BoltPlanStore{db: db}, nil
}

// GetPlan returns the stored plan for the user, or free when absent.
func (s *BoltPlanStore) GetPlan(userID string) (Plan, error) {
	plan := PlanFree
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(planBucketName)).Get([]byte(userID))
		if data != nil {
			plan = Plan(data)
		}
		return nil
	})
	if err != nil {
		return PlanFree, fmt.Errorf("reading plan: %w", err)
	}
	if _, ok := scanQuotas[plan]; !ok {
		plan = PlanFree
	}
	return plan, nil
}

// SetPlan records the plan for the user.
func (s *BoltPlanStore) SetPlan(userID string, plan Plan) error {
	if _, ok := scanQuotas[plan]; !ok {
		return fmt.Errorf("unknown plan: %s", plan)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(planBucketName)).Put([]byte(userID), []byte(plan))
	})
}
