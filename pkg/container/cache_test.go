package container

import (
	"fmt"
	"testing"
)

type fakeContainer struct {
	name   string
	closed bool
}

func TestCacheEvictsOnlyUnreferenced(t *testing.T) {
	opened := map[string]*Container{}
	// Cache calls c.Close() on eviction, so each entry is a real Container
	// opened with OpenUser in a temp dir rather than a stand-in.
	cfg := Config{DataDir: t.TempDir(), MaxMapSize: 1 << 20}

	create := func(name string) (*Container, error) {
		c, err := OpenUser(cfg, name)
		if err != nil {
			return nil, err
		}
		opened[name] = c
		return c, nil
	}

	cc := NewCache(2, create)

	a, err := cc.Get("alpha")
	if err != nil {
		t.Fatalf("get alpha: %v", err)
	}
	_, err = cc.Get("beta")
	if err != nil {
		t.Fatalf("get beta: %v", err)
	}
	// Release alpha so it becomes evictable, but keep beta referenced.
	cc.Release("alpha")
	_ = a

	if _, err := cc.Get("gamma"); err != nil {
		t.Fatalf("get gamma should evict alpha: %v", err)
	}
	cc.Release("gamma")

	if cc.Len() != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", cc.Len())
	}
	if _, stillThere := opened["alpha"]; !stillThere {
		t.Fatalf("test setup error: alpha never opened")
	}

	// beta is still referenced (its original Get was never released), so
	// further churn must evict gamma, never beta.
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("extra-%d", i)
		if _, err := cc.Get(name); err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		cc.Release(name)
	}
}
