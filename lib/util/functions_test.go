package util

import (
	"math"
	"testing"
)

func TestShardFor(t *testing.T) {
	seed := GenerateSeed()
	for _, key := range []string{"a", "employee:1", ""} {
		s := ShardFor(key, seed, 8)
		if s < 0 || s >= 8 {
			t.Errorf("ShardFor(%q) = %d out of range", key, s)
		}
		if ShardFor(key, seed, 8) != s {
			t.Errorf("ShardFor(%q) not deterministic", key)
		}
	}
	if ShardFor("x", seed, 1) != 0 {
		t.Error("single shard must always be 0")
	}
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if math.Abs(even.DistributionQuality-1.0) > 1e-9 {
		t.Errorf("Even spread quality = %f, want 1", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 40})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("Skewed spread should score lower: %f >= %f", skewed.DistributionQuality, even.DistributionQuality)
	}

	if (NewStats(nil) != Stats{}) {
		t.Error("NewStats(nil) should be zero")
	}
}
