package contracts

import "fmt"

// ActorKind classifies who performed an operation.
type ActorKind string

const (
	ActorAgent  ActorKind = "agent"
	ActorHuman  ActorKind = "human"
	ActorSystem ActorKind = "system"
)

// Valid reports whether k is one of the known actor kinds.
func (k ActorKind) Valid() bool {
	switch k {
	case ActorAgent, ActorHuman, ActorSystem:
		return true
	}
	return false
}

// Actor identifies the agent, human, or system behind an operation.
// Actors are values: they are copied onto every field write and event and
// never mutated afterwards.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
}

// SystemActor is attributed to transitions the runtime performs on its own,
// such as lazily detected expiry.
var SystemActor = Actor{Kind: ActorSystem, ID: "system", Name: "intake"}

// Validate checks that the actor carries a known kind and an id.
func (a Actor) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("actor kind %q is not one of agent, human, system", a.Kind)
	}
	if a.ID == "" {
		return fmt.Errorf("actor id is required")
	}
	return nil
}

func (a Actor) String() string {
	if a.Name != "" {
		return fmt.Sprintf("%s:%s (%s)", a.Kind, a.ID, a.Name)
	}
	return fmt.Sprintf("%s:%s", a.Kind, a.ID)
}
