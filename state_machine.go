package access

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StatusEvent is an admin action on a doctor account.
type StatusEvent string

const (
	// EventApprove moves pending or suspended accounts to approved.
	EventApprove StatusEvent = "approve"
	// EventReject moves pending accounts to rejected. Rejected is terminal.
	EventReject StatusEvent = "reject"
	// EventSuspend moves approved accounts to suspended.
	EventSuspend StatusEvent = "suspend"
)

// ActorRef identifies who triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks.
type TransitionContext struct {
	Actor ActorRef
	User  *User
	Event StatusEvent
	From  UserStatus
	To    UserStatus
	Meta  TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler converts hook failures into the error returned to the caller.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StatusUpdateOption mutates the record before a status change is persisted.
type StatusUpdateOption func(*User)

// WithSuspendedAt sets the SuspendedAt timestamp during a status transition.
func WithSuspendedAt(at *time.Time) StatusUpdateOption {
	return func(u *User) {
		u.SuspendedAt = at
	}
}

// StatusWriter persists a status change only if the stored status still
// equals from. It returns the row as stored after the attempt, so a caller
// that lost a race sees the winner's status.
type StatusWriter interface {
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to UserStatus, opts ...StatusUpdateOption) (*User, error)
}

// StatusMachine validates and applies doctor status transitions.
type StatusMachine interface {
	Next(from UserStatus, event StatusEvent) (UserStatus, error)
	Transition(ctx context.Context, writer StatusWriter, actor ActorRef, user *User, event StatusEvent, opts ...TransitionOption) (*User, error)
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*doctorStateMachine)

// WithStateMachineClock injects a custom clock.
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *doctorStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the sink used to publish status changes.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *doctorStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *doctorStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *doctorStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineLoggerProvider resolves the logger from a provider.
func WithStateMachineLoggerProvider(provider LoggerProvider) StateMachineOption {
	return func(sm *doctorStateMachine) {
		_, sm.logger = ResolveLogger("access.state_machine", provider, sm.logger)
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewStatusMachine returns the doctor approval state machine:
//
//	pending   --approve--> approved
//	pending   --reject---> rejected (terminal)
//	approved  --suspend--> suspended
//	suspended --approve--> approved
func NewStatusMachine(opts ...StateMachineOption) StatusMachine {
	sm := &doctorStateMachine{
		transitions: map[UserStatus]map[StatusEvent]UserStatus{
			UserStatusPending: {
				EventApprove: UserStatusApproved,
				EventReject:  UserStatusRejected,
			},
			UserStatusApproved: {
				EventSuspend: UserStatusSuspended,
			},
			UserStatusSuspended: {
				EventApprove: UserStatusApproved,
			},
		},
		now:              time.Now,
		activitySink:     noopActivitySink{},
		logger:           defLogger{},
		hookErrorHandler: defaultHookErrorHandler,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type doctorStateMachine struct {
	transitions      map[UserStatus]map[StatusEvent]UserStatus
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *doctorStateMachine) Next(from UserStatus, event StatusEvent) (UserStatus, error) {
	if allowed, ok := sm.transitions[from]; ok {
		if to, ok := allowed[event]; ok {
			return to, nil
		}
	}
	return "", NewInvalidTransitionError(from, event)
}

func (sm *doctorStateMachine) Transition(ctx context.Context, writer StatusWriter, actor ActorRef, user *User, event StatusEvent, opts ...TransitionOption) (*User, error) {
	if user == nil || !user.IsDoctor() {
		return nil, NewPermissionError()
	}

	from := user.Status
	to, err := sm.Next(from, event)
	if err != nil {
		return nil, err
	}

	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	tc := TransitionContext{
		Actor: actor,
		User:  user,
		Event: event,
		From:  from,
		To:    to,
		Meta:  options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	stored, err := writer.CompareAndSetStatus(ctx, user.ID, from, to, sm.statusOptions(from, to)...)
	if err != nil {
		return nil, err
	}

	if stored == nil || stored.Status != to {
		current := from
		if stored != nil {
			current = stored.Status
		}
		return nil, NewInvalidTransitionError(current, event)
	}

	*user = *stored

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventUserStatusChanged,
		Actor:      actor,
		UserID:     user.ID.String(),
		HospitalID: user.HospitalID.String(),
		FromStatus: from,
		ToStatus:   to,
		Metadata:   transitionMetadata(event, tc.Meta),
	})

	return user, nil
}

func (sm *doctorStateMachine) statusOptions(from, to UserStatus) []StatusUpdateOption {
	switch {
	case to == UserStatusSuspended:
		now := sm.now()
		return []StatusUpdateOption{WithSuspendedAt(&now)}
	case from == UserStatusSuspended:
		return []StatusUpdateOption{WithSuspendedAt(nil)}
	}
	return nil
}

func (sm *doctorStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, tc TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, tc); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, tc)
		}
	}
	return nil
}

func defaultHookErrorHandler(_ context.Context, _ TransitionHookPhase, err error, _ TransitionContext) error {
	return asRichError(err, "status transition hook failed")
}

func (sm *doctorStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error", "error", err)
	}
}

func transitionMetadata(event StatusEvent, meta TransitionMetadata) map[string]any {
	result := map[string]any{"event": string(event)}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
