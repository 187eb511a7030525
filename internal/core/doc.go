// Package core implements bridge inventory submission intake.
//
// The package holds all domain logic and no transport code; the web
// handlers, tests and any CLI drive it through [Service].
//
// # Pipeline
//
// A submission moves through these steps:
//
//  1. Chunks are written with [Service.WriteChunk] and reassembled per
//     upload token by the [ChunkAssembler].
//  2. [Service.Finalize] creates the submission (initial-pending) and starts
//     an asynchronous pipeline bounded by the [PipelineLimiter].
//  3. Files are decoded and mapped into [StagedRecord] rows through the
//     per-entity field tables, then staged (new).
//  4. The [Validator] runs the rule collaborator over every record and
//     builds a [BatchReport]; a batch without an NBIS-length bridge fails
//     with [FatalPreconditionError] (validation-failed).
//  5. [Service.EvaluateSubmit] decides whether to route, replace or update;
//     routing happens automatically when nothing conflicts.
//
// Progress is reported per upload token through [ProgressReporter] and can
// be followed in-process with [Service.SubscribeProgress].
//
// # Workflow
//
// Status changes go through one table of legal edges (see [CanTransition]).
// Workflow operations return a [TransitionResult]; an illegal move is
// reported with Applied=false and leaves the submission unchanged. Every
// applied change writes an [AuditEntry] in the same transaction.
//
// # Storage
//
// [Store] and [Tx] define the persistence boundary. Multi-step operations
// such as merge run inside one transaction and are retried as a whole on
// transient faults ([RetryPolicy], [IsTransient]).
//
// # Errors
//
// Sentinel errors are matched with errors.Is. [MapError] turns any error
// into a [UserMessage] with a support code (SUB, UPL, VAL, MRG, FILE, DB).
package core
