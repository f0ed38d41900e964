package dht

// LookupManager is the factory collaborator for LookupObjects, per
// spec.md §6. It exists as its own small capability mainly so the
// Controller can be constructed with a pluggable lookup implementation —
// the default one simply wraps NewLookupObject.
type LookupManager struct {
	localID    ID
	msgFactory *MessageFactory
}

func NewLookupManager(localID ID, msgFactory *MessageFactory) *LookupManager {
	return &LookupManager{localID: localID, msgFactory: msgFactory}
}

// GetPeers builds a fresh get_peers LookupObject for infoHash.
func (lm *LookupManager) GetPeers(lookupID any, infoHash ID, callback LookupCallback, btPort int) *LookupObject {
	return NewLookupObject(lookupID, LookupPeers, infoHash, lm.localID, btPort, callback, lm.msgFactory)
}

// MaintenanceLookup builds a find_node lookup used to refresh a stale
// routing-table bucket; it carries no caller-visible lookup id or
// callback.
func (lm *LookupManager) MaintenanceLookup(target ID) *LookupObject {
	return NewLookupObject(nil, LookupNodes, target, lm.localID, 0, nil, lm.msgFactory)
}
