package biz

import (
	"context"
	"sync"
	"testing"
	"time"

	"metering-service/internal/conf"
	"metering-service/internal/pkg/money"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ---- in-memory repos ----

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*User
	saveErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*User)}
}

func (r *fakeUserRepo) GetUser(_ context.Context, userID string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	return u.Snapshot(), nil
}

func (r *fakeUserRepo) SaveUser(_ context.Context, user *User) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user.Snapshot()
	return nil
}

func (r *fakeUserRepo) ListUsers(_ context.Context) ([]*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.Snapshot())
	}
	return out, nil
}

func (r *fakeUserRepo) DeleteUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	return nil
}

type fakeResourceRepo struct {
	mu        sync.Mutex
	resources map[string]*Resource
}

func newFakeResourceRepo() *fakeResourceRepo {
	return &fakeResourceRepo{resources: make(map[string]*Resource)}
}

func (r *fakeResourceRepo) GetResource(_ context.Context, resourceID string) (*Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[resourceID]
	if !ok {
		return nil, nil
	}
	return res.Snapshot(), nil
}

func (r *fakeResourceRepo) SaveResource(_ context.Context, resource *Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[resource.ID] = resource.Snapshot()
	return nil
}

func (r *fakeResourceRepo) ListResourcesByUser(_ context.Context, userID string) ([]*Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Resource
	for _, res := range r.resources {
		if res.UserID == userID {
			out = append(out, res.Snapshot())
		}
	}
	return out, nil
}

func (r *fakeResourceRepo) DeleteResource(_ context.Context, resourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resources, resourceID)
	return nil
}

type fakeConsumptionRepo struct {
	mu      sync.Mutex
	nextID  int64
	records []*Consumption
}

func (r *fakeConsumptionRepo) CreateConsumption(_ context.Context, c *Consumption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	r.records = append(r.records, c)
	return nil
}

func (r *fakeConsumptionRepo) ListConsumptionsByUser(_ context.Context, userID string, _ int) ([]*Consumption, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Consumption
	for _, c := range r.records {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConsumptionRepo) DeleteConsumption(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.records {
		if c.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			break
		}
	}
	return nil
}

type fakeRechargeRepo struct {
	mu      sync.Mutex
	records []*Recharge
}

func (r *fakeRechargeRepo) CreateRecharge(_ context.Context, rec *Recharge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = int64(len(r.records) + 1)
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRechargeRepo) ListRechargesByUser(_ context.Context, userID string, _ int) ([]*Recharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Recharge
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []*Event
}

func (r *fakeEventRepo) CreateEvent(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = int64(len(r.events) + 1)
	r.events = append(r.events, e)
	return nil
}

func (r *fakeEventRepo) ListEventsByUser(_ context.Context, userID string, _ int) ([]*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, e := range r.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeIdentityRepo struct {
	tenants []string
}

func (r *fakeIdentityRepo) ListTenants(_ context.Context) ([]string, error) {
	return r.tenants, nil
}

type notification struct {
	eventType string
	payload   map[string]interface{}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, eventType string, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{eventType: eventType, payload: payload})
	return nil
}

type fakeLockRepo struct {
	mu    sync.Mutex
	locks map[string]string // userID -> actionID
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{locks: make(map[string]string)}
}

func (r *fakeLockRepo) AcquireLock(_ context.Context, userID, actionID string) (bool, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, held := r.locks[userID]
	if !held {
		r.locks[userID] = actionID
		return true, "", nil
	}
	if owner == actionID {
		return true, "", nil
	}
	return false, owner, nil
}

func (r *fakeLockRepo) StealLock(_ context.Context, userID, actionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks[userID] = actionID
	return nil
}

func (r *fakeLockRepo) ReleaseLock(_ context.Context, userID, actionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks[userID] != actionID {
		return false, nil
	}
	delete(r.locks, userID)
	return true, nil
}

type fakeEngineRepo struct {
	mu        sync.Mutex
	heartbeat map[string]time.Time
}

func newFakeEngineRepo() *fakeEngineRepo {
	return &fakeEngineRepo{heartbeat: make(map[string]time.Time)}
}

func (r *fakeEngineRepo) ReportAlive(_ context.Context, engineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeat[engineID] = time.Now()
	return nil
}

func (r *fakeEngineRepo) setLastSeen(engineID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeat[engineID] = t
}

func (r *fakeEngineRepo) LastSeen(_ context.Context, engineID string) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.heartbeat[engineID]
	return t, ok, nil
}

type fakeActionRepo struct {
	mu      sync.Mutex
	actions map[string]*Action
}

func newFakeActionRepo() *fakeActionRepo {
	return &fakeActionRepo{actions: make(map[string]*Action)}
}

func (r *fakeActionRepo) CreateAction(_ context.Context, action *Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *action
	r.actions[action.ID] = &c
	return nil
}

func (r *fakeActionRepo) GetAction(_ context.Context, actionID string) (*Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[actionID]
	if !ok {
		return nil, nil
	}
	c := *a
	return &c, nil
}

func (r *fakeActionRepo) ClaimReadyActions(_ context.Context, engineID string, limit int) ([]*Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Action
	for _, a := range r.actions {
		if len(out) >= limit {
			break
		}
		if a.Status == "READY" {
			a.Status = "RUNNING"
			a.Owner = engineID
			a.StartedAt = time.Now()
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *fakeActionRepo) MarkDone(_ context.Context, actionID, status, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actions[actionID]; ok {
		a.Status = status
		a.Reason = reason
	}
	return nil
}

func (r *fakeActionRepo) Abandon(_ context.Context, actionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actions[actionID]; ok && a.Status == "RUNNING" {
		a.Status = "READY"
		a.Owner = ""
		a.Signal = ""
	}
	return nil
}

func (r *fakeActionRepo) SetSignal(_ context.Context, actionID, signal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actions[actionID]; ok {
		a.Signal = signal
	}
	return nil
}

func (r *fakeActionRepo) GetSignal(_ context.Context, actionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actions[actionID]; ok {
		return a.Signal, nil
	}
	return "", nil
}

func (r *fakeActionRepo) ListActionsByUser(_ context.Context, userID string, _ int) ([]*Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Action
	for _, a := range r.actions {
		if a.Target == userID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*Job)}
}

func (r *fakeJobRepo) SaveJob(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *job
	r.jobs[job.ID] = &c
	return nil
}

func (r *fakeJobRepo) DeleteJob(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	return nil
}

func (r *fakeJobRepo) ListJobs(_ context.Context) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Job
	for _, j := range r.jobs {
		c := *j
		out = append(out, &c)
	}
	return out, nil
}

func (r *fakeJobRepo) ClaimJob(_ context.Context, jobID, schedulerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok {
		j.SchedulerID = schedulerID
	}
	return nil
}

func (r *fakeJobRepo) get(jobID string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[jobID]
}

// ---- test environment ----

type testEnv struct {
	users        *fakeUserRepo
	resources    *fakeResourceRepo
	consumptions *fakeConsumptionRepo
	recharges    *fakeRechargeRepo
	events       *fakeEventRepo
	notifier     *fakeNotifier
	locks        *fakeLockRepo
	engines      *fakeEngineRepo
	actions      *fakeActionRepo
	jobs         *fakeJobRepo

	conf     *MeteringConfig
	registry *RuleRegistry
	userUC   *UserUseCase
	recordUC *RecordUseCase
	jobUC    *JobUseCase
	lockUC   *LockUseCase
	actionUC *ActionUseCase

	now time.Time
}

func testBootstrap() *conf.Bootstrap {
	return &conf.Bootstrap{
		Metering: &conf.Metering{
			NotifyWindowSeconds:      600,
			AllowedDelaySeconds:      10,
			LockRetryTimes:           1,
			LockRetryIntervalSeconds: 0,
			Rules: []*conf.Rule{
				{
					ResourceType: "instance",
					Unit:         "per_hour",
					Flavors: map[string]string{
						"one":  "3600",
						"two":  "7200",
						"five": "18000",
					},
				},
				{
					ResourceType: "volume",
					Unit:         "per_sec",
					VolumeSteps: []*conf.VolumeStep{
						{Start: 0, End: 100, Price: "0.01"},
						{Start: 100, End: 0, Price: "0.02"},
					},
				},
			},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.NewStdLogger(testWriter{t})

	bc := testBootstrap()
	mc := NewMeteringConfig(bc)
	mc.LockRetryInterval = time.Millisecond
	registry, err := NewRuleRegistry(bc)
	require.NoError(t, err)

	e := &testEnv{
		users:        newFakeUserRepo(),
		resources:    newFakeResourceRepo(),
		consumptions: &fakeConsumptionRepo{},
		recharges:    &fakeRechargeRepo{},
		events:       &fakeEventRepo{},
		notifier:     &fakeNotifier{},
		locks:        newFakeLockRepo(),
		engines:      newFakeEngineRepo(),
		actions:      newFakeActionRepo(),
		jobs:         newFakeJobRepo(),
		conf:         mc,
		registry:     registry,
		now:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	e.userUC = NewUserUseCase(e.users, e.resources, e.consumptions, e.recharges,
		e.events, &fakeIdentityRepo{}, e.notifier, mc, logger)
	e.recordUC = NewRecordUseCase(e.consumptions, e.recharges, e.events, logger)
	e.jobUC = NewJobUseCase(e.jobs, mc, logger)
	e.lockUC = NewLockUseCase(e.locks, e.engines, e.actions, mc, logger)
	e.actionUC = NewActionUseCase(e.actions, e.lockUC, e.userUC, e.jobUC,
		e.resources, e.consumptions, registry, mc, logger)
	e.actionUC.signalPollInterval = time.Millisecond

	nowFn := func() time.Time { return e.now }
	e.userUC.nowFunc = nowFn
	e.jobUC.nowFunc = nowFn
	e.lockUC.nowFunc = nowFn
	e.actionUC.nowFunc = nowFn
	return e
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func (e *testEnv) nowDecimal() decimal.Decimal {
	return money.TimeToDecimal(e.now)
}

// addUser 直接写入一个账户
func (e *testEnv) addUser(t *testing.T, user *User) *User {
	t.Helper()
	if user.LastBill.IsZero() {
		user.LastBill = e.nowDecimal()
	}
	require.NoError(t, e.users.SaveUser(context.Background(), user))
	return user
}

// addResource 直接写入一个资源
func (e *testEnv) addResource(t *testing.T, res *Resource) *Resource {
	t.Helper()
	if res.LastBill.IsZero() {
		res.LastBill = e.nowDecimal()
	}
	require.NoError(t, e.resources.SaveResource(context.Background(), res))
	return res
}

func (e *testEnv) getUser(t *testing.T, userID string) *User {
	t.Helper()
	u, err := e.users.GetUser(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testWriter 把日志写到测试输出
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
