package utils

import (
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/test"
)

func TestParallelForEachPoint(t *testing.T) {
	n := 1000
	out := make([]int, n)
	err := ParallelForEachPoint(n, func(i int) error {
		out[i] = i * i
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	for i := range out {
		test.That(t, out[i], test.ShouldEqual, i*i)
	}
}

func TestParallelForEachPointEmpty(t *testing.T) {
	err := ParallelForEachPoint(0, func(i int) error {
		t.Fatal("work should never run")
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
}

func TestParallelForEachPointErrors(t *testing.T) {
	err := ParallelForEachPoint(100, func(i int) error {
		if i%10 == 0 {
			return errors.Errorf("bad index %d", i)
		}
		return nil
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, len(multierr.Errors(err)), test.ShouldEqual, 10)
}

func TestParallelForEachPointFewerItemsThanWorkers(t *testing.T) {
	out := make([]int, 2)
	err := ParallelForEachPoint(2, func(i int) error {
		out[i] = i + 1
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out[0], test.ShouldEqual, 1)
	test.That(t, out[1], test.ShouldEqual, 2)
}
