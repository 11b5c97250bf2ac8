// Package blackboard provides the shared state of a performance and the types
// every troupe component exchanges: scenes, dialogue turns, public facts and
// the events emitted whenever any of them change.
//
// # Overview
//
// The Blackboard is the single shared workspace of one session. Actors never
// talk to each other directly; every utterance is appended here as a Turn and
// every piece of public knowledge is recorded as a PublicFact. The stage loop
// owns all writes, so the dialogue history is a gapless, totally ordered log.
//
// # Core Concepts
//
// Scenes are bounded units of the performance. A scene begins once, receives
// turns only while open, and ends exactly once.
//
// Turns are immutable utterances with a per-session sequence number. Placeholder
// turns stand in for actors whose generation failed.
//
// Facts are keyed (latest write wins) or free text (always accumulate). Every
// write is kept in the fact history with its source and the turn it followed.
//
// Events are the sequenced deltas broadcast to observers and recorded by stores.
//
// # Usage Example
//
//	board := blackboard.New([]string{"alice", "bob"})
//	if err := board.BeginScene("s1"); err != nil {
//		log.Fatal(err)
//	}
//	turn, err := board.AppendTurn(blackboard.Turn{SceneID: "s1", ActorID: "alice", Text: "Hello"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	// turn.Seq == 1
//
//	view := board.RenderContextFor("bob", 20)
//	// view[0].Authorship == blackboard.AuthoredByOther
//
// # Redis Schema
//
// The Client records each session's event log in Redis:
//
// Session summary: troupe:{namespace}:session:{session_id}
// Session events: troupe:{namespace}:session:{session_id}:events
// Session index: troupe:{namespace}:sessions
//
// Pub/Sub channel: troupe:{namespace}:session_events:{session_id}
package blackboard
