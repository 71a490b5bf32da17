package sqlite

// The schema is the storage half of the invariant enforcement layer.
// Every durable invariant the application asserts (assignment pairing,
// status/assignment consistency, WIP=1, fix context coherence, tenant-safe
// and project-consistent references, transition-log monotonicity,
// idempotency uniqueness) is mirrored here so it holds under arbitrary
// writers, not just well-behaved ones.
const schema = `
-- Deliverables: physical artifacts identified by (tenant_id, serial).
CREATE TABLE IF NOT EXISTS deliverables (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    deliverable_type TEXT NOT NULL CHECK(length(deliverable_type) > 0),
    serial TEXT NOT NULL CHECK(length(serial) > 0),
    status TEXT NOT NULL DEFAULT 'open'
        CHECK(status IN ('open','submitted_to_qc','qc_rejected','qc_approved','canceled')),
    created_by TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant_id, serial),
    -- Targets for tenant-safe and project-consistent composite FKs.
    UNIQUE (tenant_id, id),
    UNIQUE (tenant_id, project_id, id)
);

CREATE INDEX IF NOT EXISTS idx_deliverables_tenant_project
    ON deliverables(tenant_id, project_id);

-- Production sign-offs: append-only responsibility trail per deliverable.
CREATE TABLE IF NOT EXISTS deliverable_signoffs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    deliverable_id TEXT NOT NULL,
    signed_off_by TEXT NOT NULL,
    result TEXT NOT NULL CHECK(result IN ('approved','rejected')),
    comment TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (tenant_id, project_id, deliverable_id)
        REFERENCES deliverables(tenant_id, project_id, id)
);

CREATE INDEX IF NOT EXISTS idx_signoffs_deliverable
    ON deliverable_signoffs(tenant_id, deliverable_id, created_at);

-- QC inspections: immutable, at most one per (tenant, project, deliverable).
CREATE TABLE IF NOT EXISTS qc_inspections (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    deliverable_id TEXT NOT NULL,
    inspector_user_id TEXT NOT NULL,
    responsible_user_id TEXT,
    result TEXT NOT NULL CHECK(result IN ('approved','rejected')),
    notes TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant_id, project_id, deliverable_id),
    UNIQUE (tenant_id, project_id, id),
    FOREIGN KEY (tenant_id, project_id, deliverable_id)
        REFERENCES deliverables(tenant_id, project_id, id)
);

-- Tasks.
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    deliverable_id TEXT,
    title TEXT NOT NULL CHECK(length(title) > 0 AND length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'available'
        CHECK(status IN ('blocked','available','assigned','in_progress','submitted','done','canceled')),
    priority INTEGER NOT NULL DEFAULT 0 CHECK(priority >= 0),
    kind TEXT NOT NULL DEFAULT 'production'
        CHECK(kind IN ('production','maintenance','admin','other')),
    other_kind_label TEXT,
    is_milestone INTEGER NOT NULL DEFAULT 0,
    work_kind TEXT NOT NULL DEFAULT 'work' CHECK(work_kind IN ('work','fix')),
    created_by TEXT NOT NULL,
    assigned_to TEXT,
    assigned_at DATETIME,
    origin_task_id TEXT,
    qc_inspection_id TEXT,
    fix_source TEXT CHECK(fix_source IS NULL
        OR fix_source IN ('qc_reject','worker_initiative','supervisor_request')),
    fix_severity TEXT CHECK(fix_severity IS NULL
        OR fix_severity IN ('minor','major','critical')),
    minutes_spent INTEGER CHECK(minutes_spent IS NULL OR minutes_spent >= 0),
    row_version INTEGER NOT NULL DEFAULT 1 CHECK(row_version >= 1),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

    UNIQUE (tenant_id, id),

    -- other_kind_label present iff kind is 'other'
    CONSTRAINT ck_tasks_other_kind_label CHECK(
        (kind = 'other' AND other_kind_label IS NOT NULL AND length(other_kind_label) > 0)
        OR (kind <> 'other' AND other_kind_label IS NULL)
    ),

    -- assignment pairing: assigned_to and assigned_at both null or both set
    CONSTRAINT ck_tasks_assignment_pair CHECK(
        (assigned_to IS NULL) = (assigned_at IS NULL)
    ),

    -- status <-> assignment consistency
    CONSTRAINT ck_tasks_status_assignment CHECK(
        (status IN ('blocked','available') AND assigned_to IS NULL)
        OR (status IN ('assigned','in_progress','submitted') AND assigned_to IS NOT NULL)
        OR status IN ('done','canceled')
    ),

    -- temporal: assignment never precedes creation
    CONSTRAINT ck_tasks_assigned_after_created CHECK(
        assigned_at IS NULL OR assigned_at >= created_at
    ),

    -- fix column coherence with work_kind
    CONSTRAINT ck_tasks_fix_coherence CHECK(
        (work_kind = 'work'
            AND fix_source IS NULL AND fix_severity IS NULL
            AND origin_task_id IS NULL AND qc_inspection_id IS NULL
            AND minutes_spent IS NULL)
        OR (work_kind = 'fix'
            AND fix_source IS NOT NULL AND fix_severity IS NOT NULL
            AND (origin_task_id IS NOT NULL OR qc_inspection_id IS NOT NULL
                 OR deliverable_id IS NOT NULL))
    ),

    -- qc_reject source <=> inspection reference
    CONSTRAINT ck_tasks_qc_reject_inspection CHECK(
        (fix_source IS NULL AND qc_inspection_id IS NULL)
        OR (fix_source = 'qc_reject' AND qc_inspection_id IS NOT NULL)
        OR (fix_source IN ('worker_initiative','supervisor_request')
            AND qc_inspection_id IS NULL)
    ),

    -- tenant-safe, project-consistent references
    FOREIGN KEY (tenant_id, project_id, deliverable_id)
        REFERENCES deliverables(tenant_id, project_id, id),
    FOREIGN KEY (tenant_id, project_id, qc_inspection_id)
        REFERENCES qc_inspections(tenant_id, project_id, id),
    FOREIGN KEY (tenant_id, origin_task_id)
        REFERENCES tasks(tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_tenant_project ON tasks(tenant_id, project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_tenant_status ON tasks(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_tenant_deliverable ON tasks(tenant_id, deliverable_id);

-- WIP=1: at most one active task per (tenant, assignee).
CREATE UNIQUE INDEX IF NOT EXISTS uq_tasks_wip1_tenant_assignee_active
    ON tasks(tenant_id, assigned_to)
    WHERE assigned_to IS NOT NULL
      AND status IN ('assigned','in_progress','submitted');

-- At most one qc_reject fix-task per origin task.
CREATE UNIQUE INDEX IF NOT EXISTS uq_tasks_one_qc_fix_per_origin
    ON tasks(tenant_id, origin_task_id)
    WHERE fix_source = 'qc_reject' AND origin_task_id IS NOT NULL;

-- Transition log: append-only audit of applied actions.
CREATE TABLE IF NOT EXISTS task_transitions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    actor_user_id TEXT NOT NULL,
    action TEXT NOT NULL CHECK(length(action) > 0),
    from_status TEXT NOT NULL,
    to_status TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '{}',
    client_event_id TEXT,
    fingerprint TEXT NOT NULL DEFAULT '',
    expected_row_version INTEGER,
    result_row_version INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

    -- optimistic audit: result is always expected+1 when expected is given
    CONSTRAINT ck_transitions_expected_plus_one CHECK(
        expected_row_version IS NULL
        OR result_row_version = expected_row_version + 1
    ),

    FOREIGN KEY (tenant_id, task_id) REFERENCES tasks(tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transitions_task
    ON task_transitions(tenant_id, task_id, created_at);

-- Idempotency: one transition per (task, client_event_id).
CREATE UNIQUE INDEX IF NOT EXISTS uq_transitions_task_client_event
    ON task_transitions(task_id, client_event_id)
    WHERE client_event_id IS NOT NULL;

-- Monotonic log: one committed transition per (task, result_row_version).
CREATE UNIQUE INDEX IF NOT EXISTS uq_transitions_task_result_rv
    ON task_transitions(tenant_id, task_id, result_row_version)
    WHERE result_row_version IS NOT NULL;

-- Task dependencies: predecessor -> successor, tenant-scoped.
CREATE TABLE IF NOT EXISTS task_dependencies (
    tenant_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    predecessor_id TEXT NOT NULL,
    successor_id TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, predecessor_id, successor_id),
    CHECK (predecessor_id <> successor_id),
    FOREIGN KEY (tenant_id, predecessor_id) REFERENCES tasks(tenant_id, id),
    FOREIGN KEY (tenant_id, successor_id) REFERENCES tasks(tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_dependencies_successor
    ON task_dependencies(tenant_id, successor_id);
`
