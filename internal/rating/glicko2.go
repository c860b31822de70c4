// internal/rating/glicko2.go
package rating

import "math"

const (
	// GlickoScale is the multiplier used for converting between Elo and Glicko2's mu.
	GlickoScale = 173.7178
	// DefaultElo is the baseline rating for a player with no history.
	DefaultElo = 1500.0
	// DefaultPhi is the baseline rating deviation (RD) in Elo terms (350).
	DefaultPhi = 350.0
	// DefaultSigma is the baseline volatility for a new player.
	DefaultSigma = 0.06
	// Tau is the constraint on volatility changes.
	Tau = 0.5
	// Epsilon is the tolerance used in iteration stopping conditions.
	Epsilon = 0.000001
)

// PlayerRating is one player's rating state in standard Elo terms. Phi is the
// rating deviation and Sigma the volatility, both as Glicko2 defines them.
type PlayerRating struct {
	Elo   float64
	Phi   float64
	Sigma float64
}

// NewPlayerRating returns the baseline rating for a player with no history.
func NewPlayerRating() PlayerRating {
	return PlayerRating{Elo: DefaultElo, Phi: DefaultPhi, Sigma: DefaultSigma}
}

// glicko2 holds the transformed rating (Mu), rating deviation (Phi), and
// volatility (Sigma) in Glicko2 space.
type glicko2 struct {
	Mu    float64
	Phi   float64
	Sigma float64
}

func toGlicko2(r PlayerRating) glicko2 {
	return glicko2{
		Mu:    (r.Elo - DefaultElo) / GlickoScale,
		Phi:   r.Phi / GlickoScale,
		Sigma: r.Sigma,
	}
}

func fromGlicko2(g glicko2) PlayerRating {
	return PlayerRating{
		Elo:   g.Mu*GlickoScale + DefaultElo,
		Phi:   g.Phi * GlickoScale,
		Sigma: g.Sigma,
	}
}

// UpdatePair applies a single-match Glicko2 update to both sides of a 1v1
// result. scoreA is 1 if player A won, 0 if player A lost.
func UpdatePair(a, b PlayerRating, scoreA float64) (PlayerRating, PlayerRating) {
	ga := toGlicko2(a)
	gb := toGlicko2(b)
	newA := updateGlicko(ga, gb, scoreA)
	newB := updateGlicko(gb, ga, 1.0-scoreA)
	return fromGlicko2(newA), fromGlicko2(newB)
}

// updateGlicko performs a single-match Glicko2 update with volatility for a
// player r against an opponent rOpp, given the final score in [0..1].
func updateGlicko(r, rOpp glicko2, score float64) glicko2 {
	gVal := g(rOpp.Phi)
	EVal := E(r.Mu, rOpp.Mu, rOpp.Phi)

	v := 1.0 / (gVal * gVal * EVal * (1 - EVal))
	delta := v * gVal * (score - EVal)

	a := math.Log(r.Sigma * r.Sigma)
	A := a
	var B float64
	if delta*delta > r.Phi*r.Phi+v {
		B = math.Log(delta*delta - r.Phi*r.Phi - v)
	} else {
		k := 1.0
		for f(a-k*Tau, r.Phi, v, delta, A) < 0 {
			k++
		}
		B = a - k*Tau
	}

	fA := func(x float64) float64 {
		return f(x, r.Phi, v, delta, A)
	}

	fB := fA(B)
	for i := 0; i < 100; i++ {
		fAVal := fA(A)
		if math.Abs(fAVal) < Epsilon {
			break
		}
		A1 := A
		A = A1 - fAVal*(A1-B)/(fAVal-fB)
		fB = fA(B)
		if math.Abs(A-B) < Epsilon {
			break
		}
	}
	newSigma := math.Exp(A / 2)
	phiStar := math.Sqrt(r.Phi*r.Phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.Mu + phiPrime*phiPrime*gVal*(score-EVal)

	return glicko2{
		Mu:    muPrime,
		Phi:   phiPrime,
		Sigma: newSigma,
	}
}

// g is the G(phi) factor from Glicko2, applying the standard formula 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/math.Pi/math.Pi)
}

// E is the expected score formula in Glicko2 space, E(mu,mu2,phi2)=1/(1+exp[-g(phi2)*(mu-mu2)])
func E(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

// f is the Glicko2 volatility root-finding function used in the iterative volatility update.
func f(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return (num / den) - ((x - a) / (Tau * Tau))
}
