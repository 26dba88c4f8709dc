// Package metrics computes binary confusion-matrix scores.
package metrics

type Confusion struct {
	TP int `json:"true_positives"`
	TN int `json:"true_negatives"`
	FP int `json:"false_positive"`
	FN int `json:"false_negative"`
}

func (c Confusion) Total() int { return c.TP + c.TN + c.FP + c.FN }

type Scores struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
}

// Tally counts truth/prediction pairs; label 1 is the positive class.
func Tally(truth, preds []int64) Confusion {
	var c Confusion
	for i := range min(len(truth), len(preds)) {
		switch {
		case truth[i] == 1 && preds[i] == 1:
			c.TP++
		case truth[i] == 0 && preds[i] == 0:
			c.TN++
		case truth[i] == 0 && preds[i] == 1:
			c.FP++
		case truth[i] == 1 && preds[i] == 0:
			c.FN++
		}
	}
	return c
}

// Compute returns 0 for any score whose denominator is zero.
func Compute(c Confusion) Scores {
	var s Scores
	s.Accuracy = ratio(c.TP+c.TN, c.Total())
	s.Precision = ratio(c.TP, c.TP+c.FP)
	s.Recall = ratio(c.TP, c.TP+c.FN)
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
