// Package core contains the shared domain model of JobMesh: job postings and
// their cache lifecycle, search queries, candidate profiles, match reports,
// the session stream message envelope, the error taxonomy, and the interfaces
// implemented by stores, connectors and external collaborators.
//
// The package is dependency-light by design. Concrete implementations live in
// sibling packages (jobstore, index, connector, match, pipeline, session) and
// depend on core, never the other way around.
package core
