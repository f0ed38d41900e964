package dht

import "time"

// ContactState mirrors the BEP-5 good/questionable/bad classification
// used to decide which entries a full bucket is allowed to evict.
type ContactState int

const (
	StateGood         ContactState = iota // responded (to us) or queried us in the last goodInterval
	StateQuestionable                     // no activity in goodInterval but hasn't failed enough to be bad
	StateBad                              // failed failureThreshold consecutive queries
)

const (
	goodInterval      = 15 * time.Minute
	failureThreshold  = 3
	staleBucketWindow = 15 * time.Minute
)

// Contact is a routing-table entry: a Node plus the liveness bookkeeping
// the RoutingManager needs to classify and evict it.
type Contact struct {
	Node Node

	lastSeen      time.Time
	lastQueried   time.Time
	failedQueries int
	state         ContactState
}

// NewContact wraps node as a freshly-seen, not-yet-classified contact.
func NewContact(node Node) *Contact {
	return &Contact{Node: node, lastSeen: time.Now(), state: StateQuestionable}
}

func (c *Contact) ID() ID { return c.Node.ID }

// MarkSeen records a successful response or an inbound query from this
// contact, resetting its failure count and promoting it to good.
func (c *Contact) MarkSeen() {
	c.lastSeen = time.Now()
	c.failedQueries = 0
	c.state = StateGood
}

// MarkQueried records that the local node sent this contact a query.
func (c *Contact) MarkQueried() { c.lastQueried = time.Now() }

// MarkFailed records a timed-out or errored query, demoting the contact
// to bad once failureThreshold consecutive failures accumulate.
func (c *Contact) MarkFailed() {
	c.failedQueries++
	if c.failedQueries >= failureThreshold {
		c.state = StateBad
	} else {
		c.state = StateQuestionable
	}
}

func (c *Contact) IsGood() bool {
	return c.state == StateGood && time.Since(c.lastSeen) < goodInterval
}

func (c *Contact) IsQuestionable() bool {
	if c.state == StateBad {
		return false
	}
	return time.Since(c.lastSeen) >= goodInterval
}

func (c *Contact) IsBad() bool { return c.state == StateBad }
