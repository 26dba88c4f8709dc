package dataset

import (
	"math"
	"math/rand/v2"
)

const (
	TestFraction = 0.2
	SplitSeed    = 42
)

// Split is a plain seeded random partition; no stratification.
func Split(in Labeled) (train, test Labeled) {
	n := len(in.Rows)
	nTest := int(math.Ceil(TestFraction * float64(n)))
	perm := rand.New(rand.NewPCG(SplitSeed, SplitSeed)).Perm(n)

	train = Labeled{Name: "training", Columns: append([]string(nil), in.Columns...), Classes: in.Classes}
	test = Labeled{Name: "testing", Columns: append([]string(nil), in.Columns...), Classes: in.Classes}
	test.Rows = make([]LabeledRecord, 0, nTest)
	train.Rows = make([]LabeledRecord, 0, n-nTest)
	for i, idx := range perm {
		if i < nTest {
			test.Rows = append(test.Rows, in.Rows[idx])
		} else {
			train.Rows = append(train.Rows, in.Rows[idx])
		}
	}
	return train, test
}
