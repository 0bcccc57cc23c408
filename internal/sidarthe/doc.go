// Package sidarthe implements the eight-compartment SIDARTHE epidemic
// model as an agent.
//
// Compartments are Susceptible, Infected (undetected, asymptomatic),
// Diagnosed, Ailing (undetected, symptomatic), Recognized, Threatened,
// Healed and Extinct. The four contagion rates may be bound to channels of
// the observable so a policy agent can drive them tick by tick.
package sidarthe
