package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hospitalcore/internal/infra/persistence/memory"
	"hospitalcore/pkg/domain"

	"github.com/google/uuid"
)

// Service exposes the hospital workflow operations. Every operation runs in a
// single store transaction: the transition, its derived fields, the bills
// autobilling opens for it, and the notifications it triggers commit together
// or not at all. Committed changes
// are then written to the durable store, if one is configured.
type Service struct {
	store    *memory.Store
	notifier *Dispatcher
	billing  *autobiller
	sync     *SyncAdapter

	durable       domain.DurableStore
	remoteTimeout time.Duration

	danglingMu sync.Mutex
	dangling   []domain.ReferentialIntegrityError

	logger      Logger
	clock       Clock
	session     SessionProvider
	audit       AuditRecorder
	metrics     MetricsRecorder
	tracer      Tracer
	claimNumber func(provider string, now time.Time) string
}

// NewService constructs a service backed by the supplied store.
func NewService(store *memory.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		notifier:    NewDispatcher(),
		billing:     &autobiller{prices: Tariff(nil)},
		logger:      noopLogger{},
		clock:       systemClock{},
		session:     noSession{},
		audit:       noopAuditRecorder{},
		metrics:     noopMetricsRecorder{},
		tracer:      noopTracer{},
		claimNumber: defaultClaimNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	store.SetNowFunc(func() time.Time { return s.clock.Now().UTC() })
	if s.durable != nil {
		s.sync = NewSyncAdapter(s.durable, s.remoteTimeout, s.logger)
		store.Subscribe(s.sync.Observe)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store. A nil engine uses
// the default rule set.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying entity store. Projections read from it and
// subscribe to its commits.
func (s *Service) Store() *memory.Store {
	return s.store
}

// Load replaces local state with the contents of the durable store.
func (s *Service) Load(ctx context.Context) error {
	if s.sync == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "load")
	start := time.Now()
	snapshot, err := s.sync.Load(ctx)
	var dangling []domain.ReferentialIntegrityError
	if err == nil {
		dangling, err = s.store.ImportState(memory.Snapshot(snapshot))
	}
	s.metrics.Observe(ctx, "load", err == nil, time.Since(start))
	span.End(err)
	if err != nil {
		s.logger.Error("load from durable store failed", "error", err)
		return err
	}
	for _, ref := range dangling {
		s.logger.Warn("durable state holds a dangling reference",
			"entity", ref.Entity, "id", ref.ID, "field", ref.Field, "target", ref.Target, "target_id", ref.TargetID)
	}
	s.danglingMu.Lock()
	s.dangling = dangling
	s.danglingMu.Unlock()
	total := 0
	for _, entities := range snapshot {
		total += len(entities)
	}
	s.logger.Info("loaded state from durable store", "entities", total, "dangling_references", len(dangling))
	return nil
}

// DanglingReferences lists the references found unresolved by the last Load.
// Such entities are readable and updatable; projections render the missing
// side with a placeholder.
func (s *Service) DanglingReferences() []domain.ReferentialIntegrityError {
	s.danglingMu.Lock()
	defer s.danglingMu.Unlock()
	return append([]domain.ReferentialIntegrityError(nil), s.dangling...)
}

// PendingSync lists entities whose latest version failed to reach the durable
// store.
func (s *Service) PendingSync() []PendingSync {
	if s.sync == nil {
		return nil
	}
	return s.sync.Pending()
}

// FlushPending retries pending durable writes. The core never retries on its
// own; callers decide when to flush.
func (s *Service) FlushPending(ctx context.Context) error {
	if s.sync == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "flush_pending")
	start := time.Now()
	err := s.sync.Flush(ctx, s.store)
	s.metrics.Observe(ctx, "flush_pending", err == nil, time.Since(start))
	span.End(err)
	return err
}

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

var operationCatalog = map[string]operationMeta{
	"create_user":                   {domain.EntityUser, domain.ActionCreate},
	"update_user":                   {domain.EntityUser, domain.ActionUpdate},
	"deactivate_user":               {domain.EntityUser, domain.ActionUpdate},
	"register_patient":              {domain.EntityPatient, domain.ActionCreate},
	"update_patient":                {domain.EntityPatient, domain.ActionUpdate},
	"schedule_appointment":          {domain.EntityAppointment, domain.ActionCreate},
	"update_appointment_status":     {domain.EntityAppointment, domain.ActionUpdate},
	"add_medical_record":            {domain.EntityMedicalRecord, domain.ActionCreate},
	"update_medical_record_status":  {domain.EntityMedicalRecord, domain.ActionUpdate},
	"update_prescription_status":    {domain.EntityPrescription, domain.ActionUpdate},
	"create_lab_order":              {domain.EntityLabOrder, domain.ActionCreate},
	"update_lab_order_status":       {domain.EntityLabOrder, domain.ActionUpdate},
	"create_bill":                   {domain.EntityBill, domain.ActionCreate},
	"add_bill_item":                 {domain.EntityBill, domain.ActionUpdate},
	"generate_bill":                 {domain.EntityBill, domain.ActionCreate},
	"auto_generate_bills":           {domain.EntityBill, domain.ActionCreate},
	"update_bill_status":            {domain.EntityBill, domain.ActionUpdate},
	"forward_bill":                  {domain.EntityInsuranceClaim, domain.ActionCreate},
	"submit_insurance_claim":        {domain.EntityInsuranceClaim, domain.ActionCreate},
	"update_insurance_claim_status": {domain.EntityInsuranceClaim, domain.ActionUpdate},
	"add_surgery_request":           {domain.EntitySurgeryRequest, domain.ActionCreate},
	"update_surgery_request_status": {domain.EntitySurgeryRequest, domain.ActionUpdate},
	"add_surgery_progress":          {domain.EntitySurgeryRequest, domain.ActionUpdate},
	"add_ot_checklist":              {domain.EntityOTChecklist, domain.ActionCreate},
	"update_ot_checklist":           {domain.EntityOTChecklist, domain.ActionUpdate},
	"toggle_ot_checklist_item":      {domain.EntityOTChecklist, domain.ActionUpdate},
	"add_referral":                  {domain.EntityReferral, domain.ActionCreate},
	"update_referral_status":        {domain.EntityReferral, domain.ActionUpdate},
	"add_notification":              {domain.EntityNotification, domain.ActionCreate},
	"mark_notification_read":        {domain.EntityNotification, domain.ActionUpdate},
}

// recordingTx tracks every entity written during a transaction so that the
// dispatcher can react to the changes and the sync adapter can persist them.
type recordingTx struct {
	domain.Transaction
	changes []domain.Change
}

func (r *recordingTx) Upsert(e domain.Entity) (domain.Entity, error) {
	var before domain.Entity
	if id := e.Meta().ID; id != "" {
		before, _ = r.Transaction.Get(e.Kind(), id)
	}
	stored, err := r.Transaction.Upsert(e)
	if err != nil {
		return nil, err
	}
	action := domain.ActionCreate
	if before != nil {
		action = domain.ActionUpdate
	}
	r.changes = append(r.changes, domain.Change{Entity: stored.Kind(), Action: action, Before: before, After: stored})
	return stored, nil
}

func (r *recordingTx) written() []domain.Entity {
	out := make([]domain.Entity, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.After
	}
	return out
}

// run executes one audited workflow operation. The returned entity is set
// whenever the local commit succeeded, including when the durable write
// failed with a RemoteError.
func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Transaction) (domain.Entity, error)) (domain.Entity, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()

	var primary domain.Entity
	var rec *recordingTx
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec = &recordingTx{Transaction: tx}
		e, err := fn(rec)
		if err != nil {
			return err
		}
		if err := s.autobill(rec, append([]domain.Change(nil), rec.changes...)); err != nil {
			return fmt.Errorf("autobill: %w", err)
		}
		if _, err := s.notifier.Dispatch(rec, append([]domain.Change(nil), rec.changes...)); err != nil {
			return fmt.Errorf("dispatch notifications: %w", err)
		}
		primary = e
		return nil
	})
	if err != nil {
		s.finish(ctx, span, op, "", err, time.Since(start))
		return nil, err
	}

	if s.sync != nil {
		err = s.sync.Persist(ctx, rec.written())
	}
	var id string
	if primary != nil {
		id = primary.Meta().ID
	}
	s.finish(ctx, span, op, id, err, time.Since(start))
	return primary, err
}

func (s *Service) finish(ctx context.Context, span TraceSpan, op, entityID string, err error, dur time.Duration) {
	s.metrics.Observe(ctx, op, err == nil, dur)
	span.End(err)
	s.recordAudit(ctx, op, entityID, err, dur)

	switch {
	case err == nil:
		s.logger.Debug("operation committed", "operation", op, "entity_id", entityID, "duration", dur)
	case isRemote(err):
		s.logger.Warn("operation committed locally, durable write failed", "operation", op, "entity_id", entityID, "error", err)
	default:
		s.logger.Info("operation rejected", "operation", op, "error", err)
	}
}

// isRemote reports whether err came from the durable store after a local
// commit.
func isRemote(err error) bool {
	var remote domain.RemoteError
	return errors.As(err, &remote)
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, err error, dur time.Duration) {
	meta, ok := operationCatalog[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  dur,
		Timestamp: s.clock.Now().UTC(),
	}
	if p, ok := s.session.Current(ctx); ok {
		entry.Actor = p.UserID
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// mutate adapts run to a typed result.
func mutate[T domain.Entity](ctx context.Context, s *Service, op string, fn func(tx domain.Transaction) (T, error)) (T, error) {
	e, err := s.run(ctx, op, func(tx domain.Transaction) (domain.Entity, error) {
		v, err := fn(tx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	typed, _ := e.(T)
	return typed, err
}

func load[T domain.Entity](view domain.TransactionView, id string) (T, error) {
	v, ok := domain.Get[T](view, id)
	if !ok {
		var zero T
		return zero, domain.NotFoundError{Entity: zero.Kind(), ID: id}
	}
	return v, nil
}

func save[T domain.Entity](tx domain.Transaction, v T) (T, error) {
	stored, err := tx.Upsert(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return stored.(T), nil
}

func (s *Service) actor(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p, ok := s.session.Current(ctx); ok {
		return p.UserID
	}
	return ""
}

func required(kind domain.EntityType, id, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.ValidationError{Entity: kind, ID: id, Field: field, Message: "is required"}
	}
	return nil
}

func defaultClaimNumber(provider string, now time.Time) string {
	prefix := strings.ToUpper(strings.TrimSpace(provider))
	if prefix == "" {
		prefix = "CLM"
	}
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), suffix)
}
