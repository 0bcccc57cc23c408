package sidarthe

import "github.com/san-kum/closedloop/internal/dynamo"

const (
	S = iota
	I
	D
	A
	R
	T
	H
	E
)

var Compartments = []string{"S", "I", "D", "A", "R", "T", "H", "E"}

// Rates are the transition rates that stay fixed for a run, per tick.
type Rates struct {
	Epsilon float64 // I -> D
	Zeta    float64 // I -> A
	Eta     float64 // D -> R
	Theta   float64 // A -> R
	Kappa   float64 // A -> H
	H       float64 // I -> H
	Mu      float64 // A -> T
	Nu      float64 // R -> T
	Xi      float64 // R -> H
	Rho     float64 // D -> H
	Sigma   float64 // T -> H
	Tau     float64 // T -> E
}

func DefaultRates() Rates {
	return Rates{
		Epsilon: 0.171,
		Zeta:    0.125,
		Eta:     0.125,
		Theta:   0.371,
		Kappa:   0.017,
		H:       0.034,
		Mu:      0.012,
		Nu:      0.027,
		Xi:      0.017,
		Rho:     0.034,
		Sigma:   0.017,
		Tau:     0.003,
	}
}

func (r Rates) values() []float64 {
	return []float64{r.Epsilon, r.Zeta, r.Eta, r.Theta, r.Kappa, r.H, r.Mu, r.Nu, r.Xi, r.Rho, r.Sigma, r.Tau}
}

// System is the SIDARTHE right-hand side. The control vector carries the
// contagion rates (alpha, beta, gamma, delta) from I, D, A and R.
type System struct {
	N     float64
	Rates Rates
}

var _ dynamo.System = System{}

func (s System) Derive(x dynamo.State, u dynamo.Control, _ float64) dynamo.State {
	alpha, beta, gamma, delta := u[0], u[1], u[2], u[3]
	r := s.Rates

	infection := x[S] / s.N * (alpha*x[I] + beta*x[D] + gamma*x[A] + delta*x[R])

	dx := make(dynamo.State, 8)
	dx[S] = -infection
	dx[I] = infection - (r.Epsilon+r.Zeta+r.H)*x[I]
	dx[D] = r.Epsilon*x[I] - (r.Eta+r.Rho)*x[D]
	dx[A] = r.Zeta*x[I] - (r.Theta+r.Mu+r.Kappa)*x[A]
	dx[R] = r.Eta*x[D] + r.Theta*x[A] - (r.Nu+r.Xi)*x[R]
	dx[T] = r.Mu*x[A] + r.Nu*x[R] - (r.Sigma+r.Tau)*x[T]
	dx[H] = r.H*x[I] + r.Rho*x[D] + r.Kappa*x[A] + r.Xi*x[R] + r.Sigma*x[T]
	dx[E] = r.Tau * x[T]
	return dx
}

func (System) StateDim() int   { return 8 }
func (System) ControlDim() int { return 4 }

// ReproductionNumber is the basic reproduction number for the given
// contagion rates.
func (r Rates) ReproductionNumber(alpha, beta, gamma, delta float64) float64 {
	r1 := r.Epsilon + r.Zeta + r.H
	r2 := r.Eta + r.Rho
	r3 := r.Theta + r.Mu + r.Kappa
	r4 := r.Nu + r.Xi

	r0 := alpha / r1
	r0 += beta * r.Epsilon / (r1 * r2)
	r0 += gamma * r.Zeta / (r1 * r3)
	r0 += delta * r.Eta * r.Epsilon / (r1 * r2 * r4)
	r0 += delta * r.Zeta * r.Theta / (r1 * r3 * r4)
	return r0
}
