package sessions

import "fmt"

// StateKind identifies which of the session states is active.
type StateKind int

const (
	KindUnauthenticated StateKind = iota
	KindAuthenticating
	KindAuthenticated
	KindRefreshing
	KindExpired
)

func (k StateKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindAuthenticating:
		return "authenticating"
	case KindAuthenticated:
		return "authenticated"
	case KindRefreshing:
		return "refreshing"
	case KindExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Account is the identity returned by the identity provider once a user has signed in.
// Accounts are treated as immutable values: a re-login replaces the whole record.
type Account struct {
	ID       string `json:"id"`       // Stable unique identifier (OIDC "sub")
	Username string `json:"username"` // Login name, usually preferred_username or email
	Name     string `json:"name"`     // Display name
}

// DisplayName returns the best human readable label for the account.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Username != "" {
		return a.Username
	}
	return a.ID
}

// State is a single session state value. Use the constructors below rather than
// building one directly; states that carry an account are only valid with one.
type State struct {
	Kind    StateKind
	Account *Account // Set for Authenticated, Refreshing and Expired
	Reason  string   // Set for Expired
}

func Unauthenticated() State { return State{Kind: KindUnauthenticated} }

func Authenticating() State { return State{Kind: KindAuthenticating} }

func Authenticated(account Account) State {
	return State{Kind: KindAuthenticated, Account: &account}
}

func Refreshing(account Account) State {
	return State{Kind: KindRefreshing, Account: &account}
}

func Expired(account Account, reason string) State {
	return State{Kind: KindExpired, Account: &account, Reason: reason}
}

func (s State) String() string {
	switch {
	case s.Kind == KindExpired && s.Account != nil:
		return fmt.Sprintf("%s{%s, %s}", s.Kind, s.Account.ID, s.Reason)
	case s.Account != nil:
		return fmt.Sprintf("%s{%s}", s.Kind, s.Account.ID)
	default:
		return s.Kind.String()
	}
}

// wellFormed reports whether the state carries the fields its kind requires.
func (s State) wellFormed() bool {
	switch s.Kind {
	case KindUnauthenticated, KindAuthenticating:
		return s.Account == nil
	case KindAuthenticated, KindRefreshing, KindExpired:
		return s.Account != nil
	default:
		return false
	}
}

// legalTransitions lists, per source kind, the kinds it may move to.
var legalTransitions = map[StateKind][]StateKind{
	KindUnauthenticated: {KindAuthenticating, KindAuthenticated, KindRefreshing},
	KindAuthenticating:  {KindAuthenticated, KindUnauthenticated},
	KindAuthenticated:   {KindRefreshing, KindExpired, KindUnauthenticated},
	KindRefreshing:      {KindAuthenticated, KindExpired, KindUnauthenticated},
	KindExpired:         {KindAuthenticating, KindRefreshing, KindUnauthenticated},
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	if !to.wellFormed() {
		return false
	}
	for _, k := range legalTransitions[from.Kind] {
		if k == to.Kind {
			return true
		}
	}
	return false
}
