package model

import "math"

// Adam keeps first and second moments per named parameter. Parameters that
// receive no gradient in a step are left untouched.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	t int
	m map[string][]float64
	v map[string][]float64
}

func NewAdam(lr float64) *Adam {
	return &Adam{LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, m: map[string][]float64{}, v: map[string][]float64{}}
}

// Begin starts a new optimizer step.
func (a *Adam) Begin() { a.t++ }

func (a *Adam) Steps() int { return a.t }

func (a *Adam) Update(key string, param, grad []float64) {
	m, ok := a.m[key]
	if !ok {
		m = make([]float64, len(param))
		a.m[key] = m
		a.v[key] = make([]float64, len(param))
	}
	v := a.v[key]
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, g := range grad {
		m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
		v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
		mHat := m[i] / c1
		vHat := v[i] / c2
		param[i] -= a.LR * mHat / (math.Sqrt(vHat) + a.Eps)
	}
}
