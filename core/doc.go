// Package core contains the shared domain contracts of RecallMesh: the record
// model, the provider interfaces (embedder, reranker, vector store) and the
// error taxonomy. Implementations live in their own topic packages (embedder,
// reranker, vectorstore) and are selected at wiring time; depend on the
// interfaces here in your code to keep backends swappable.
//
// Rationale: keeps domain contracts centralized while allowing pluggable
// backends (remote embedding APIs, local models, different ANN stores) to be
// added without introducing dependency cycles.
package core
