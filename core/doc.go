// Package core contains the transaction lifecycle contracts, entities and
// orchestration logic: process definitions, the transition state machine,
// dispatch planning and the job runner that executes side effects. Storage,
// queue and transport adapters depend on this package; core must not depend
// on them.
package core
