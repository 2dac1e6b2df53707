// Command studiodemo wires every component of the workflow execution engine
// together and runs one sample workflow end to end: trigger ingestion
// through the dedup store, admission through the scheduler's quota gate,
// execution through the Graph Runner and Node Executor, and usage
// accounting through the ledger and alert sweeper. This is not an HTTP
// server; REST transport is explicitly out of scope for this module.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/appscriptstudio/workflow-engine/auth"
	"github.com/appscriptstudio/workflow-engine/config"
	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/connector/adp"
	"github.com/appscriptstudio/workflow-engine/connector/anthropic"
	"github.com/appscriptstudio/workflow-engine/connector/dataverse"
	"github.com/appscriptstudio/workflow-engine/connector/githubapp"
	"github.com/appscriptstudio/workflow-engine/connector/google"
	"github.com/appscriptstudio/workflow-engine/connector/jira"
	"github.com/appscriptstudio/workflow-engine/connector/okta"
	"github.com/appscriptstudio/workflow-engine/connector/openai"
	"github.com/appscriptstudio/workflow-engine/connector/slack"
	"github.com/appscriptstudio/workflow-engine/connector/snowflake"
	"github.com/appscriptstudio/workflow-engine/connector/stripe"
	"github.com/appscriptstudio/workflow-engine/connector/workday"
	"github.com/appscriptstudio/workflow-engine/dedup"
	"github.com/appscriptstudio/workflow-engine/domain"
	"github.com/appscriptstudio/workflow-engine/engine"
	"github.com/appscriptstudio/workflow-engine/registry"
	"github.com/appscriptstudio/workflow-engine/scheduler"
	"github.com/appscriptstudio/workflow-engine/store"
	"github.com/appscriptstudio/workflow-engine/telemetry"
	"github.com/appscriptstudio/workflow-engine/usage"

	"github.com/redis/go-redis/v9"
)

const demoOrgID = "org-demo"

// app holds every wired component for the lifetime of the process. initApp
// builds it from a store and config; shutdown tears it down.
type app struct {
	cfg       *config.Config
	st        store.Store
	registry  *registry.Registry
	auth      *auth.Manager
	dispatch  *connector.Dispatcher
	ledger    *usage.Ledger
	alerts    *usage.AlertSweeper
	runner    *engine.Runner
	scheduler *scheduler.Scheduler
	admitter  *dedup.Admitter

	mu        sync.Mutex
	workflows map[string]domain.Workflow
}

func main() {
	cfg := config.Load()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("studiodemo: open store: %v", err)
	}
	defer closeStore()

	a := initApp(cfg, st)
	defer func() {
		if err := a.shutdown(10 * time.Second); err != nil {
			log.Printf("studiodemo: shutdown: %v", err)
		}
	}()

	ctx := context.Background()
	if err := a.scheduler.Init(ctx); err != nil {
		log.Fatalf("studiodemo: scheduler recovery failed: %v", err)
	}

	wf := sampleWorkflow()
	a.registerWorkflow(wf)
	seedConnections(ctx, a.st)

	// First ingestion of a trigger event: dedup admits it, the scheduler
	// runs it to completion.
	execID, err := a.ingest(ctx, wf.ID, "slack.message", "evt-001", map[string]any{"text": "new PR opened"})
	if err != nil {
		log.Fatalf("studiodemo: ingest failed: %v", err)
	}
	fmt.Printf("submitted execution %s\n", execID)

	// Give the scheduler's dispatch goroutine a moment to finish before
	// reading results back; a production caller would instead poll
	// Scheduler.Status or subscribe to EventExecutionFinished.
	time.Sleep(200 * time.Millisecond)

	final, err := a.scheduler.Status(ctx, execID)
	if err != nil {
		log.Fatalf("studiodemo: status lookup failed: %v", err)
	}
	fmt.Printf("execution %s finished with status=%s\n", final.ID, final.Status)

	// Resubmitting the same (triggerSlug,eventId) must resolve to the same
	// execution rather than starting a new run.
	dupID, err := a.ingest(ctx, wf.ID, "slack.message", "evt-001", map[string]any{"text": "new PR opened"})
	if err != nil {
		log.Fatalf("studiodemo: duplicate ingest failed: %v", err)
	}
	fmt.Printf("duplicate event resolved to execution %s (same=%v)\n", dupID, dupID == execID)

	reportUsage(a)
}

// openStore selects the persistence backend named by cfg.Store.Backend,
// returning a no-op closer for the in-memory backend.
func openStore(cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.OpenSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "mysql":
		s, err := store.OpenMySQLStore(cfg.Store.MySQLDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return store.NewMemoryStore(), func() error { return nil }, nil
	}
}

// openDedupStore selects the dedup backend named by cfg.Dedup.Backend.
// A misconfigured Redis address is discovered lazily on
// first use, matching how go-redis itself defers connection to the first
// command.
func openDedupStore(cfg *config.Config) dedup.Store {
	if cfg.Dedup.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Dedup.RedisAddr})
		return dedup.NewRedisStore(client)
	}
	return dedup.NewMemoryStore()
}

// initApp constructs every component against st, the durable side-log and
// entity store.
func initApp(cfg *config.Config, st store.Store) *app {
	persister := &storeTokenPersister{st: st}
	authMgr := auth.NewManager(persister, auth.DefaultRefreshSkew)
	authMgr.RegisterRefresher(githubapp.Slug, githubapp.Refresher{Mint: demoInstallationTokenMinter})
	authMgr.RegisterRefresher(adp.Slug, adp.Refresher{})

	clients := buildClients(cfg, authMgr)

	reg := registry.New()
	for _, rc := range clients {
		reg.Register(descriptorFor(rc.client, rc.variant))
	}

	dedupStore := openDedupStore(cfg)

	// Every registered connector runs behind a circuit breaker:
	// a struggling upstream trips its own breaker and stops taking new
	// calls for a cooldown window instead of every concurrent node piling
	// on retries against it.
	dispatch := connector.NewDispatcher()
	for _, rc := range clients {
		dispatch.Register(connector.NewBreakerClient(rc.client, rc.client.Slug()))
	}
	dispatch.Alias("gpt", openai.Slug)

	tracker := usage.NewCostTracker()
	ledger := usage.NewLedger(st, tracker, nil)
	logEmitter := telemetry.NewLogEmitter(log.New(os.Stdout, "", log.LstdFlags))
	emitter := telemetry.Multi{logEmitter, ledger}
	alerts := usage.NewAlertSweeper(emitter)

	resolver := &storeConnectionResolver{st: st}
	executor := &engine.NodeExecutor{
		Dispatcher:  dispatch,
		Registry:    reg,
		Connections: resolver,
		Beta:        staticBetaOptIns{},
		Emitter:     emitter,
	}
	runner := &engine.Runner{Executor: executor, Emitter: emitter, Store: st}

	a := &app{
		cfg:       cfg,
		st:        st,
		registry:  reg,
		auth:      authMgr,
		dispatch:  dispatch,
		ledger:    ledger,
		alerts:    alerts,
		runner:    runner,
		admitter:  &dedup.Admitter{Store: dedupStore},
		workflows: make(map[string]domain.Workflow),
	}

	limitsFor := func(orgID string) scheduler.OrgLimits {
		return scheduler.OrgLimits{
			MaxConcurrent: cfg.Org.MaxConcurrent,
			MaxPerMinute:  cfg.Org.MaxPerMinute,
			MaxPerMonth:   cfg.Org.MaxPerMonth,
			QueueDepth:    cfg.Org.QueueDepth,
		}
	}
	execFn := func(ctx context.Context, exec domain.Execution, trig scheduler.TriggerEvent) (domain.Execution, error) {
		wf, ok := a.lookupWorkflow(exec.WorkflowID)
		if !ok {
			return exec, &domain.Err{Kind: domain.ErrNotFound, Message: "unknown workflow " + exec.WorkflowID}
		}
		final, records, err := runner.Run(ctx, exec, wf)
		if err != nil {
			return exec, err
		}
		persistNodeExecutions(ctx, st, records)
		return final, nil
	}
	a.scheduler = scheduler.New(limitsFor, execFn, st, emitter)
	return a
}

// registerWorkflow makes wf runnable by this app's scheduler. Production
// callers load workflows from the Store by id instead; the demo keeps an
// in-memory map for simplicity.
func (a *app) registerWorkflow(wf domain.Workflow) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workflows[wf.ID] = wf
}

func (a *app) lookupWorkflow(id string) (domain.Workflow, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	wf, ok := a.workflows[id]
	return wf, ok
}

// ingest performs the dedup-before-admission flow: a
// candidate execution id is minted and claimed in the dedup store first;
// only a fresh claim proceeds to the scheduler.
func (a *app) ingest(ctx context.Context, workflowID, triggerSlug, eventID string, payload map[string]any) (string, error) {
	candidate := dedup.NewCorrelationID()
	rec, isNew, err := a.admitter.Admit(ctx, triggerSlug, eventID, candidate, dedup.DefaultTTL)
	if err != nil {
		return "", err
	}
	if !isNew {
		return rec.ExecutionID, nil
	}

	trig := scheduler.TriggerEvent{EventID: eventID, CorrelationID: candidate, Payload: payload}
	execID, err := a.scheduler.SubmitWithID(ctx, candidate, demoOrgID, workflowID, trig)
	if err != nil {
		if qerr, ok := err.(*scheduler.QuotaError); ok {
			return "", qerr.AsDomainErr()
		}
		return "", err
	}
	return execID, nil
}

func (a *app) shutdown(deadline time.Duration) error {
	return a.scheduler.Shutdown(deadline)
}

func reportUsage(a *app) {
	period := usage.DefaultPeriodFunc(time.Now())
	counter := a.ledger.Counter(demoOrgID, "", period)
	fmt.Printf("usage for %s/%s: apiCalls=%d tokensUsed=%d workflowRuns=%d costMicros=%d\n",
		demoOrgID, period, counter.APICalls, counter.TokensUsed, counter.WorkflowRuns, counter.EstimatedCostMicros)

	limits := func(orgID, userID string) map[usage.QuotaType]int64 {
		return map[usage.QuotaType]int64{usage.QuotaAPICalls: 10, usage.QuotaWorkflowRuns: 1}
	}
	a.alerts.Sweep([]domain.UsageCounter{counter}, limits)

	export := usage.BuildExport([]domain.UsageCounter{counter}, map[string]usage.Identity{})
	if err := usage.WriteCSV(os.Stdout, export); err != nil {
		log.Printf("studiodemo: export failed: %v", err)
	}
}

// sampleWorkflow chains an LLM summarization node into a Slack notification
// node, binding the Slack message body to the LLM node's output text via
// the standard "{{nodes.<id>.output.<path>}}" template syntax.
func sampleWorkflow() domain.Workflow {
	return domain.Workflow{
		ID:      "wf-demo",
		OrgID:   demoOrgID,
		Name:    "summarize-and-notify",
		Version: 1,
		Nodes: []domain.Node{
			{
				ID:            "summarize",
				ConnectorSlug: anthropic.Slug,
				Operation:     "create_message",
				ConnectionID:  "conn-anthropic",
				Input: map[string]any{
					"messages": []any{
						map[string]any{"role": "user", "content": "Summarize: new PR opened"},
					},
				},
			},
			{
				ID:            "notify",
				ConnectorSlug: slack.Slug,
				Operation:     "post_message",
				ConnectionID:  "conn-slack",
				Input: map[string]any{
					"channel": "#workflows",
					"text":    "{{nodes.summarize.output.text}}",
				},
			},
		},
		Edges: []domain.Edge{
			{From: "summarize", To: "notify"},
		},
	}
}

// registeredClient pairs a constructed Client with the auth variant its
// descriptor advertises.
type registeredClient struct {
	client  connector.Client
	variant domain.AuthVariant
}

// buildClients constructs every connector this process ships. The
// tenant-addressed ones (okta, dataverse, workday, snowflake) validate
// their endpoint configuration at construction and abort startup on a
// misconfiguration rather than failing the first workflow that touches
// them.
func buildClients(cfg *config.Config, authMgr *auth.Manager) []registeredClient {
	oktaClient, err := okta.New(okta.Config{Domain: cfg.Connectors.OktaDomain})
	if err != nil {
		log.Fatalf("studiodemo: okta: %v", err)
	}
	dataverseClient, err := dataverse.New(dataverse.Config{OrgURL: cfg.Connectors.DataverseOrgURL})
	if err != nil {
		log.Fatalf("studiodemo: dataverse: %v", err)
	}
	workdayClient, err := workday.New(workday.Config{Host: cfg.Connectors.WorkdayHost, Tenant: cfg.Connectors.WorkdayTenant})
	if err != nil {
		log.Fatalf("studiodemo: workday: %v", err)
	}
	snowflakeClient, err := snowflake.New(snowflake.Config{Account: cfg.Connectors.SnowflakeAccount})
	if err != nil {
		log.Fatalf("studiodemo: snowflake: %v", err)
	}

	return []registeredClient{
		{anthropic.New(), domain.AuthHeaderKey},
		{openai.New(), domain.AuthHeaderKey},
		{google.New(), domain.AuthHeaderKey},
		{slack.New(), domain.AuthHeaderKey},
		{jira.New(), domain.AuthBasic},
		{githubapp.New(), domain.AuthOAuth2},
		{oktaClient, domain.AuthSSWS},
		{dataverseClient, domain.AuthOAuth2},
		{workdayClient, domain.AuthOAuth2},
		{adp.New(authMgr), domain.AuthOAuth2},
		{stripe.New(), domain.AuthBearer},
		{snowflakeClient, domain.AuthOAuth2},
	}
}

func descriptorFor(c connector.Client, variant domain.AuthVariant) domain.ConnectorDescriptor {
	return domain.ConnectorDescriptor{
		Slug:            c.Slug(),
		DisplayName:     c.Slug(),
		Variant:         variant,
		LifecycleStage:  domain.StageStable,
		SemanticVersion: "1.0.0",
		SchemaVersion:   1,
		Operations:      c.Operations(),
		UpdatedAt:       time.Now(),
	}
}

func seedConnections(ctx context.Context, st store.Store) {
	put := func(slug string, conn domain.Connection) {
		conn.ID = "conn-" + slug
		conn.OrgID = demoOrgID
		conn.ConnectorSlug = slug
		conn.CreatedAt = time.Now()
		conn.UpdatedAt = time.Now()
		b, _ := json.Marshal(conn)
		_ = st.Put(ctx, connectionKey(demoOrgID, slug), b)
	}

	put(anthropic.Slug, domain.Connection{Variant: domain.AuthHeaderKey, Data: map[string]any{"apiKey": "sk-ant-demo"}})
	put(slack.Slug, domain.Connection{Variant: domain.AuthHeaderKey, Data: map[string]any{"botToken": "xoxb-demo"}})
}

func connectionKey(orgID, slug string) string {
	return "connection:" + orgID + ":" + slug
}

type storeConnectionResolver struct {
	st store.Store
}

func (r *storeConnectionResolver) Resolve(ctx context.Context, orgID, connectorSlug string) (*domain.Connection, error) {
	raw, err := r.st.Get(ctx, connectionKey(orgID, connectorSlug))
	if err != nil {
		return nil, &domain.Err{Kind: domain.ErrNotFound, Message: "no connection for " + connectorSlug, Cause: err}
	}
	var conn domain.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

type storeTokenPersister struct {
	st store.Store
}

func (p *storeTokenPersister) OnTokenRefreshed(ctx context.Context, conn *domain.Connection) error {
	b, err := json.Marshal(conn)
	if err != nil {
		return err
	}
	return p.st.Put(ctx, connectionKey(conn.OrgID, conn.ConnectorSlug), b)
}

type staticBetaOptIns struct{}

func (staticBetaOptIns) BetaEnabled(orgID, connectorSlug string) bool { return false }

// demoInstallationTokenMinter stands in for a real call to GitHub's
// /app/installations/{id}/access_tokens endpoint signed with the app's
// private key; this demo never makes that call, it only exercises
// auth.Manager's refresh-coalescing path.
func demoInstallationTokenMinter(ctx context.Context, appID, installationID, privateKeyPEM string) (string, time.Time, error) {
	return "ghs-demo-token", time.Now().Add(time.Hour), nil
}

func persistNodeExecutions(ctx context.Context, st store.Store, records []domain.NodeExecution) {
	for _, rec := range records {
		key := fmt.Sprintf("nodeexecution:%s:%s", rec.ExecutionID, rec.NodeID)
		b, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		_ = st.Put(ctx, key, b)
	}
}
