package backend

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/replog/replog/internal/model"
)

// mockRepo is a minimal Repository implementation for registry and
// factory tests.
type mockRepo struct {
	name   Type
	opts   Options
	closed bool
}

func (m *mockRepo) Name() Type                               { return m.name }
func (m *mockRepo) Initialize(ctx context.Context) error     { return nil }
func (m *mockRepo) Close() error                             { m.closed = true; return nil }
func (m *mockRepo) AddExercise(ctx context.Context, userID string, input model.ExerciseInput) (*model.Exercise, error) {
	return nil, nil
}
func (m *mockRepo) DeleteExercise(ctx context.Context, userID, id string) error { return nil }
func (m *mockRepo) ExerciseByID(ctx context.Context, userID, id string) (*model.Exercise, bool) {
	return nil, false
}
func (m *mockRepo) ListExercises(ctx context.Context, userID string) ([]model.Exercise, error) {
	return nil, nil
}
func (m *mockRepo) Exercises(ctx context.Context, userID string) (<-chan []model.Exercise, func()) {
	ch := make(chan []model.Exercise)
	return ch, func() {}
}
func (m *mockRepo) SubscribeExercises(userID string, fn func([]model.Exercise)) (func(), error) {
	return func() {}, nil
}
func (m *mockRepo) IsSyncing() bool                      { return false }
func (m *mockRepo) IsOnline() bool                       { return true }
func (m *mockRepo) PendingChanges() int                  { return 0 }
func (m *mockRepo) HasErrors() bool                      { return false }
func (m *mockRepo) ErrorMessage() string                 { return "" }
func (m *mockRepo) ForceSync(ctx context.Context) error  { return nil }
func (m *mockRepo) SyncSnapshot() SyncInfo               { return SyncInfo{Online: true} }
func (m *mockRepo) SignInAnonymously(ctx context.Context) (*model.UserAccount, error) {
	return nil, nil
}
func (m *mockRepo) CurrentUser(ctx context.Context) (*model.UserAccount, bool) { return nil, false }
func (m *mockRepo) UpgradeAccount(ctx context.Context, email string) (*model.UserAccount, error) {
	return nil, nil
}
func (m *mockRepo) ClearAll(ctx context.Context) error { return nil }

func newMockConstructor(name Type) Constructor {
	return func(opts Options) (Repository, error) {
		return &mockRepo{name: name, opts: opts}, nil
	}
}

// testTypeCounter generates unique test type names so tests don't
// collide in the process-wide registry.
var testTypeCounter int64

func uniqueTestType(prefix string) Type {
	n := atomic.AddInt64(&testTypeCounter, 1)
	return Type(fmt.Sprintf("%s-%d", prefix, n))
}

func TestRegister(t *testing.T) {
	typeName := uniqueTestType("register-test")

	Register(typeName, newMockConstructor(typeName))

	if !IsRegistered(typeName) {
		t.Error("expected type to be registered")
	}

	constructor := getConstructor(typeName)
	if constructor == nil {
		t.Fatal("expected constructor for registered type")
	}

	repo, err := constructor(Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	if repo.Name() != typeName {
		t.Errorf("expected backend name %q, got %q", typeName, repo.Name())
	}
}

func TestRegisterPanicsOnNil(t *testing.T) {
	typeName := uniqueTestType("nil-test")

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when registering nil constructor")
		}
	}()

	Register(typeName, nil)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	typeName := uniqueTestType("dup-test")

	Register(typeName, newMockConstructor(typeName))

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when registering duplicate type")
		}
	}()

	Register(typeName, newMockConstructor(typeName))
}

func TestRegisteredTypesSorted(t *testing.T) {
	a := uniqueTestType("zz-sorted")
	b := uniqueTestType("aa-sorted")
	Register(a, newMockConstructor(a))
	Register(b, newMockConstructor(b))

	types := RegisteredTypes()
	for i := 1; i < len(types); i++ {
		if types[i-1] > types[i] {
			t.Fatalf("RegisteredTypes not sorted: %v", types)
		}
	}
}

func TestFactoryCachesInstances(t *testing.T) {
	typeName := uniqueTestType("cache-test")
	Register(typeName, newMockConstructor(typeName))

	f := NewFactory(Options{DataDir: t.TempDir()})

	first, err := f.Create(typeName)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := f.Create(typeName)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	if first != second {
		t.Error("factory should return the same instance for the same type")
	}
}

func TestFactoryUnknownType(t *testing.T) {
	f := NewFactory(Options{})
	if _, err := f.Create(Type("no-such-backend")); err == nil {
		t.Fatal("expected error for unregistered type")
	}
}

func TestSelectType(t *testing.T) {
	if got := SelectType(false); got != TypePulse {
		t.Errorf("SelectType(false) = %s, want %s", got, TypePulse)
	}
	if got := SelectType(true); got != TypeRelay {
		t.Errorf("SelectType(true) = %s, want %s", got, TypeRelay)
	}
}

func TestFactoryCloseAll(t *testing.T) {
	typeName := uniqueTestType("close-test")
	Register(typeName, newMockConstructor(typeName))

	f := NewFactory(Options{DataDir: t.TempDir()})
	repo, err := f.Create(typeName)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := f.CloseAll(); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if !repo.(*mockRepo).closed {
		t.Error("CloseAll should close constructed adapters")
	}
	if _, ok := f.Cached(typeName); ok {
		t.Error("cache should be empty after CloseAll")
	}
}
