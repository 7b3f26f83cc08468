// Package audit records who did what, when and from where.
//
// # Overview
//
// A Recorder writes one immutable Record per Audit call. Every record carries
// a category from an allowed CategorySet, a message, an optional JSON payload,
// the acting principal and the client IP of the main request.
//
// Built-in categories: AUTHENTICATION, DATABASE, ETL_PIPELINE, EXCEPTION,
// EXTERNAL_CALL. Hosts add their own at bootstrap:
//
//	categories := audit.NewCategorySet("BILLING", "SHIPPING")
//
// # Recorders
//
// Service is the storage-backed recorder. VoidRecorder drops everything and
// is the baseline of RecorderRegistry, which picks the registered recorder
// with the highest DefaultPriority:
//
//	svc := audit.NewService(store, audit.ServiceConfig{
//		Categories: categories,
//		Exclusions: audit.DefaultExclusionPolicy(),
//	}, audit.WithTranslator(catalog), audit.WithInstrumentation(metrics))
//
//	registry := audit.NewRecorderRegistry(nil, logger)
//	registry.Register("service", svc)
//	recorder := registry.Resolve()
//
//	err := recorder.Audit(ctx, "BILLING", "invoice sent", map[string]any{"invoice": 42})
//
// # Listeners
//
// ExceptionListener audits unhandled HTTP and console errors under EXCEPTION,
// skipping excluded status codes, paths and routes. LifecycleListener audits
// entity create, update and remove events under DATABASE using a UnitOfWork
// for change-sets; related entities are reduced to identifiers, and members
// without one become "[cascade_persist]".
//
// # Storage
//
// SQLStore (PostgreSQL), FileStore (JSON lines with rotation) and MemoryStore
// implement Storage; SQLStore and MemoryStore also implement Reader. MultiStore
// fans out to several stores. CachedReader adds an in-process LRU and an
// optional shared cache in front of a Reader. Archiver copies a day of records
// to object storage as gzipped NDJSON.
//
// # HTTP API
//
//	GET  /audit/records          list with filters and pagination
//	POST /audit/records          write a record
//	GET  /audit/records/{id}     fetch one record
//	GET  /audit/export           json, ndjson or csv download
//	GET  /audit/stats            counts by category and user
//	GET  /audit/categories       allowed categories
package audit
