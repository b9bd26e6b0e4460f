package metrics_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/control"
	"codeberg.org/mutker/climactl/internal/device"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
	"codeberg.org/mutker/climactl/internal/metrics"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) metrics.Config {
	t.Helper()
	cfg := metrics.DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "duty.db")
	cfg.BatchSize = 1
	cfg.FlushInterval = 0
	return cfg
}

func openRepo(t *testing.T, cfg metrics.Config) metrics.Repository {
	t.Helper()
	repo, err := metrics.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	return repo
}

func sensed(at time.Time, cmd climate.Commands, faults ...errors.Error) control.Status {
	return control.Status{Time: at, Sensed: true, Commands: cmd, Faults: faults}
}

type transition struct {
	At       time.Duration
	Actuator climate.ActuatorID
	On       bool
}

func relative(trs []metrics.Transition) []transition {
	out := make([]transition, 0, len(trs))
	for _, tr := range trs {
		out = append(out, transition{tr.Time.Sub(t0), tr.Actuator, tr.On})
	}
	return out
}

func TestNewServiceDisabled(t *testing.T) {
	rec, err := metrics.NewService(metrics.DefaultConfig(), logger.Nop())
	require.NoError(t, err)

	rec.OnStatus(sensed(t0, climate.Commands{Light: true}))
	assert.NoError(t, rec.Close())
}

func TestNewServiceInvalidConfig(t *testing.T) {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = ""

	_, err := metrics.NewService(cfg, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, metrics.ErrInvalidDBPath))

	cfg = testConfig(t)
	cfg.BatchSize = 0
	_, err = metrics.NewService(cfg, logger.Nop())
	require.Error(t, err)
	assert.Equal(t, metrics.ErrInvalidConfig, errors.CodeOf(err))
}

func TestDutyRecorderTransitionsAndOnTime(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	rec := metrics.NewDutyRecorder(repo, logger.Nop())

	rec.OnStatus(sensed(t0, climate.Commands{Exhaust: true, Light: true}))
	rec.OnStatus(sensed(t0.Add(5*time.Second), climate.Commands{Light: true}))
	rec.OnStatus(sensed(t0.Add(10*time.Second), climate.Commands{}))

	trs, err := repo.Transitions(t0)
	require.NoError(t, err)
	assert.Equal(t, []transition{
		{0, climate.Exhaust, true},
		{0, climate.Light, true},
		{5 * time.Second, climate.Exhaust, false},
		{10 * time.Second, climate.Light, false},
	}, relative(trs))

	onTime, err := repo.DailyOnTime("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, map[climate.ActuatorID]time.Duration{
		climate.Exhaust: 5 * time.Second,
		climate.Light:   10 * time.Second,
	}, onTime)

	require.NoError(t, rec.Close())
}

func TestDutyRecorderIgnoresUnsensedStatus(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	rec := metrics.NewDutyRecorder(repo, logger.Nop())

	rec.OnStatus(sensed(t0, climate.Commands{Rain: true}))
	// A sensor fault leaves the relays as they were.
	rec.OnStatus(control.Status{Time: t0.Add(5 * time.Second), Degraded: true})
	rec.OnStatus(sensed(t0.Add(10*time.Second), climate.Commands{Rain: true}))

	trs, err := repo.Transitions(t0)
	require.NoError(t, err)
	assert.Equal(t, []transition{{0, climate.Rain, true}}, relative(trs))

	require.NoError(t, rec.Close())
}

func TestDutyRecorderKeepsStateOfFailedActuator(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	rec := metrics.NewDutyRecorder(repo, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := device.NewMemoryActuators(logger.Nop()).SetState(ctx, climate.Humidifier, true)
	require.Error(t, err)
	fault, ok := err.(errors.Error)
	require.True(t, ok)

	rec.OnStatus(sensed(t0, climate.Commands{}))
	rec.OnStatus(sensed(t0.Add(5*time.Second), climate.Commands{Humidifier: true, Intake: true}, fault))

	trs, err := repo.Transitions(t0)
	require.NoError(t, err)
	assert.Equal(t, []transition{{5 * time.Second, climate.Intake, true}}, relative(trs))

	require.NoError(t, rec.Close())
}

func TestDutyRecorderSplitsOnTimeAtMidnight(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	rec := metrics.NewDutyRecorder(repo, logger.Nop())

	start := time.Date(2026, 3, 1, 23, 59, 50, 0, time.UTC)
	rec.OnStatus(sensed(start, climate.Commands{Light: true}))
	rec.OnStatus(sensed(start.Add(30*time.Second), climate.Commands{}))

	day1, err := repo.DailyOnTime("2026-03-01")
	require.NoError(t, err)
	day2, err := repo.DailyOnTime("2026-03-02")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, day1[climate.Light])
	assert.Equal(t, 20*time.Second, day2[climate.Light])

	require.NoError(t, rec.Close())
}

func TestDutyRecorderCloseAccountsOpenIntervals(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100 // only Close flushes

	rec := metrics.NewDutyRecorder(openRepo(t, cfg), logger.Nop())
	rec.OnStatus(sensed(t0, climate.Commands{Exhaust: true}))
	rec.OnStatus(sensed(t0.Add(7*time.Second), climate.Commands{Exhaust: true}))
	require.NoError(t, rec.Close())

	repo := openRepo(t, cfg)
	defer repo.Close()

	trs, err := repo.Transitions(t0)
	require.NoError(t, err)
	assert.Equal(t, []transition{
		{0, climate.Exhaust, true},
		{7 * time.Second, climate.Exhaust, false},
	}, relative(trs))

	onTime, err := repo.DailyOnTime("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, onTime[climate.Exhaust])
}

func TestDailyOnTimeAccumulatesAcrossFlushes(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	defer repo.Close()

	day := "2026-03-01"
	require.NoError(t, repo.Record(metrics.Entry{OnTime: &metrics.OnTime{Day: day, Actuator: climate.Rain, Duration: 3 * time.Second}}))
	require.NoError(t, repo.Record(metrics.Entry{OnTime: &metrics.OnTime{Day: day, Actuator: climate.Rain, Duration: 4 * time.Second}}))

	onTime, err := repo.DailyOnTime(day)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, onTime[climate.Rain])
}

func TestPeriodicFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100
	cfg.FlushInterval = 10 * time.Millisecond

	repo := openRepo(t, cfg)
	defer repo.Close()

	require.NoError(t, repo.Record(metrics.Entry{Transition: &metrics.Transition{Time: t0, Actuator: climate.Light, On: true}}))

	assert.Eventually(t, func() bool {
		trs, err := repo.Transitions(t0)
		return err == nil && len(trs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchemaVersionMismatchRecreates(t *testing.T) {
	cfg := testConfig(t)

	repo := openRepo(t, cfg)
	require.NoError(t, repo.Record(metrics.Entry{Transition: &metrics.Transition{Time: t0, Actuator: climate.Light, On: true}}))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE schema_versions SET version = ?`, metrics.SchemaVersion+1)
	require.NoError(t, err)

	version, err := metrics.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, metrics.SchemaVersion+1, version)
	require.NoError(t, db.Close())

	repo = openRepo(t, cfg)
	defer repo.Close()

	trs, err := repo.Transitions(t0)
	require.NoError(t, err)
	assert.Empty(t, trs)

	backups, err := filepath.Glob(filepath.Join(filepath.Dir(cfg.DBPath), "backups", "duty_v*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	repo := openRepo(t, testConfig(t))
	require.NoError(t, repo.Close())
	assert.NoError(t, repo.Close())
}
