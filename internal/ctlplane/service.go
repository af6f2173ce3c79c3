package ctlplane

import (
	"context"
	"time"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/admission"
	"grimm.is/turnstile/internal/firewall"
	"grimm.is/turnstile/internal/preflight"
)

// Controller is the part of admission.Controller the control plane uses.
type Controller interface {
	Mode() access.Mode
	Grant(ctx context.Context, mac string, minutes int) (access.Grant, error)
	GrantIP(ctx context.Context, ip string, minutes int) (access.Grant, error)
	Revoke(ctx context.Context, mac string) (access.Grant, error)
	List(ctx context.Context) admission.Status
	History(limit int) ([]access.HistoryRecord, error)
	Check(ctx context.Context) preflight.Report
	Plan(ctx context.Context) (firewall.Plan, error)
}

var _ Controller = (*admission.Controller)(nil)

// DefaultTimeout bounds each RPC call's work on the firewall.
const DefaultTimeout = 30 * time.Second

// Service holds the RPC methods. Every method returns a nil error for
// domain failures and reports them in its reply instead.
type Service struct {
	ctl     Controller
	timeout time.Duration
}

func (s *Service) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Grant admits a device by MAC, or by IP when args.IP is set.
func (s *Service) Grant(args *GrantArgs, reply *Result) error {
	ctx, cancel := s.context()
	defer cancel()

	var g access.Grant
	var err error
	if args.IP != "" {
		g, err = s.ctl.GrantIP(ctx, args.IP, args.Minutes)
	} else {
		g, err = s.ctl.Grant(ctx, args.MAC, args.Minutes)
	}
	*reply = *grantResult(s.ctl.Mode(), g, err)
	return nil
}

// Revoke ends a device's grant.
func (s *Service) Revoke(args *RevokeArgs, reply *Result) error {
	ctx, cancel := s.context()
	defer cancel()

	g, err := s.ctl.Revoke(ctx, args.MAC)
	*reply = *revokeResult(s.ctl.Mode(), g, err)
	return nil
}

// List returns the status snapshot.
func (s *Service) List(_ *Empty, reply *ListReply) error {
	ctx, cancel := s.context()
	defer cancel()

	reply.Status = s.ctl.List(ctx)
	return nil
}

// History returns grant history.
func (s *Service) History(args *HistoryArgs, reply *HistoryReply) error {
	recs, err := s.ctl.History(args.Limit)
	if err != nil {
		reply.Error = err.Error()
	}
	reply.Records = recs
	return nil
}

// Check runs every host readiness check.
func (s *Service) Check(_ *Empty, reply *CheckReply) error {
	ctx, cancel := s.context()
	defer cancel()

	reply.Report = s.ctl.Check(ctx)
	return nil
}

// Plan shows what the next reconcile would change.
func (s *Service) Plan(_ *Empty, reply *PlanReply) error {
	ctx, cancel := s.context()
	defer cancel()

	p, err := s.ctl.Plan(ctx)
	if err != nil {
		reply.Error = err.Error()
	}
	reply.Plan = p
	reply.Diff = firewall.RenderPlan(p)
	return nil
}
