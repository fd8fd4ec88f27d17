package models_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/household_backend/config"
	"github.com/mmdatafocus/household_backend/models"
	"github.com/mmdatafocus/household_backend/procurement"
	"github.com/mmdatafocus/household_backend/utils"
	"github.com/sirupsen/logrus"
)

func TestMySQLStoreIntegration(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("REDIS_CONNECT_ATTEMPTS", "5")
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "household_test")

	db := config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(ctx)
	if config.GetRedisLock() == nil {
		t.Fatalf("redis lock client not connected")
	}

	reset := func(t *testing.T) {
		t.Helper()
		if err := db.Migrator().DropTable(models.AllModels()...); err != nil {
			t.Fatalf("drop tables: %v", err)
		}
		if err := models.MigrateTable(db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}

	for _, c := range storeContract {
		t.Run(c.name, func(t *testing.T) {
			reset(t)
			c.fn(t, models.NewGormStore(db))
		})
	}

	t.Run("concurrent_feedback_same_preference", func(t *testing.T) {
		reset(t)
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		engine := procurement.NewEngine(models.NewGormStore(db), config.DefaultEngineConfig(),
			procurement.WithLogger(logger),
			procurement.WithLocker(config.GetRedisLock()),
		)

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := engine.RecordFeedback(ctx, procurement.FeedbackRequest{
					ItemName:   "牛奶",
					Category:   "食品",
					UserAction: "accepted",
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("record feedback: %v", err)
			}
		}

		pref, err := models.NewGormStore(db).GetPreference(ctx, models.PreferenceTypeCategoryPriority, "食品")
		if err != nil {
			t.Fatalf("get preference: %v", err)
		}
		if pref.SampleCount != writers {
			t.Fatalf("expected %d samples, got %d", writers, pref.SampleCount)
		}
		if pref.Version != writers {
			t.Fatalf("expected version %d, got %d", writers, pref.Version)
		}
	})

	applyConcurrently := func(t *testing.T, engine *procurement.Engine, writers int) []error {
		t.Helper()
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = engine.ApplyRecommendations(ctx, procurement.ApplyRecommendationsRequest{
					Items: []procurement.ApplyItem{{ItemName: "抽纸", SuggestedQuantity: 30 + i, Priority: 5}},
				})
			}(i)
		}
		wg.Wait()
		return errs
	}
	expectOnePending := func(t *testing.T) {
		t.Helper()
		pending, err := models.NewGormStore(db).ListShoppingList(ctx, models.ShoppingListStatusPending)
		if err != nil {
			t.Fatalf("list shopping list: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("expected one pending entry, got %d", len(pending))
		}
	}

	t.Run("concurrent_apply_same_item_locked", func(t *testing.T) {
		reset(t)
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		engine := procurement.NewEngine(models.NewGormStore(db), config.DefaultEngineConfig(),
			procurement.WithLogger(logger),
			procurement.WithLocker(config.GetRedisLock()),
		)
		for _, err := range applyConcurrently(t, engine, 8) {
			if err != nil {
				t.Fatalf("apply recommendations: %v", err)
			}
		}
		expectOnePending(t)
	})

	t.Run("concurrent_apply_same_item_unlocked", func(t *testing.T) {
		reset(t)
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		engine := procurement.NewEngine(models.NewGormStore(db), config.DefaultEngineConfig(), procurement.WithLogger(logger))
		for _, err := range applyConcurrently(t, engine, 8) {
			var de *utils.DomainError
			if err != nil && (!errors.As(err, &de) || de.Code != utils.DomainCodePendingExists) {
				t.Fatalf("only %s may fail a racing writer, got %v", utils.DomainCodePendingExists, err)
			}
		}
		expectOnePending(t)
	})

	t.Run("lock_helper_serializes", func(t *testing.T) {
		var mu sync.Mutex
		inside, maxInside := 0, 0
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := utils.WithKeyLock(ctx, config.GetRedisLock(), "household:test:lock", 5*time.Second, func() error {
					mu.Lock()
					inside++
					if inside > maxInside {
						maxInside = inside
					}
					mu.Unlock()
					time.Sleep(50 * time.Millisecond)
					mu.Lock()
					inside--
					mu.Unlock()
					return nil
				})
				if err != nil {
					t.Errorf("with key lock: %v", err)
				}
			}()
		}
		wg.Wait()
		if maxInside != 1 {
			t.Fatalf("expected exclusive lock holders, saw %d at once", maxInside)
		}
	})
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("household-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("household-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=household_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--character-set-server=utf8mb4",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// "127.0.0.1:49154\n"
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
