package mcp

import "sync"

// SessionRegistry maps agent IDs to MCP session IDs and tracks which runs
// each agent launched. Populated automatically when an agent passes agent_id
// to reflow.run.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // agentID -> sessionID
	runs     map[string]string // runID -> agentID
}

// NewSessionRegistry creates an empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]string),
		runs:     make(map[string]string),
	}
}

// Register associates an agent ID with a session ID. A reconnecting agent
// overwrites its previous session.
func (r *SessionRegistry) Register(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[agentID] = sessionID
}

// SessionFor returns the session ID for the given agent, if connected.
func (r *SessionRegistry) SessionFor(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[agentID]
	return sid, ok
}

// TrackRun records that the agent launched the run, so run lifecycle
// notifications can be routed back to it.
func (r *SessionRegistry) TrackRun(runID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = agentID
}

// AgentForRun returns the agent that launched the run, if tracked.
func (r *SessionRegistry) AgentForRun(runID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	aid, ok := r.runs[runID]
	return aid, ok
}

// ReleaseRun drops the run mapping once its final notification went out.
func (r *SessionRegistry) ReleaseRun(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Remove deletes all agent and run mappings for the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for aid, sid := range r.sessions {
		if sid != sessionID {
			continue
		}
		delete(r.sessions, aid)
		for rid, owner := range r.runs {
			if owner == aid {
				delete(r.runs, rid)
			}
		}
	}
}
