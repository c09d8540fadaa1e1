package repository

var schemaStatements = []string{
	`CREATE CONSTRAINT organization_code IF NOT EXISTS FOR (o:Organization) REQUIRE o.code IS UNIQUE`,
	`CREATE CONSTRAINT transaction_id IF NOT EXISTS FOR (t:Transaction) REQUIRE t.transactionId IS UNIQUE`,
	`CREATE CONSTRAINT reference_entity_key IF NOT EXISTS FOR (e:ReferenceEntity) REQUIRE (e.kind, e.entityId) IS UNIQUE`,
	`CREATE INDEX transaction_scope IF NOT EXISTS FOR (t:Transaction) ON (t.organizationCode, t.year, t.month)`,
	`CREATE INDEX transaction_document IF NOT EXISTS FOR (t:Transaction) ON (t.documentNumber)`,
}

const upsertOrganizationCypher = `
MERGE (o:Organization {code: $code})
SET o.name = CASE WHEN $name = "" THEN coalesce(o.name, $code) ELSE $name END
RETURN o.code AS code
`

const listOrganizationsCypher = `
MATCH (o:Organization)
RETURN o.code AS code, o.name AS name
ORDER BY o.code
`

const organizationExistsCypher = `
MATCH (o:Organization {code: $code})
RETURN o.code AS code
`

const upsertSharedEntityCypher = `
MERGE (e:ReferenceEntity {kind: $kind, entityId: $entityId})
SET e += $props
WITH e
OPTIONAL MATCH (e)-[owned:OWNED_BY]->(:Organization)
DELETE owned
RETURN DISTINCT e.entityId AS entityId
`

const upsertOwnedEntityCypher = `
MATCH (o:Organization {code: $organizationCode})
MERGE (e:ReferenceEntity {kind: $kind, entityId: $entityId})
SET e += $props
WITH e, o
OPTIONAL MATCH (e)-[stale:OWNED_BY]->(other:Organization)
WHERE other.code <> $organizationCode
DELETE stale
WITH DISTINCT e, o
MERGE (e)-[:OWNED_BY]->(o)
RETURN e.entityId AS entityId
`

const entityColumns = `
       e.entityId AS entityId,
       e.kind AS kind,
       e.code AS code,
       e.label AS label,
       e.organizationCode AS organizationCode,
       e.direction AS direction,
       e.capacity AS capacity,
       e.unit AS unit,
       e.attributesJson AS attributesJson`

const getEntityCypher = `
MATCH (e:ReferenceEntity {kind: $kind, entityId: $entityId})
RETURN` + entityColumns + `
`

const listCandidatesCypher = `
MATCH (e:ReferenceEntity {kind: $kind})
WHERE (
    CASE WHEN $orgScoped
      THEN e.organizationCode = $organizationCode
      ELSE coalesce(e.organizationCode, "") = "" OR e.organizationCode = $organizationCode
    END
  )
  AND ($direction = "" OR coalesce(e.direction, "") = "" OR e.direction = $direction)
RETURN` + entityColumns + `
ORDER BY e.label, e.entityId
`

const createTransactionCypher = `
MATCH (o:Organization {code: $organizationCode})
MERGE (t:Transaction {transactionId: $transactionId})
ON CREATE SET t += $props,
              t.revision = 1,
              t.resolvedSlots = [],
              t.createdAt = $now,
              t.updatedAt = $now
MERGE (t)-[:BELONGS_TO]->(o)
RETURN t.transactionId AS transactionId,
       (t.revision = 1 AND t.createdAt = $now) AS created
`

const transactionColumns = `
       t.transactionId AS transactionId,
       t.organizationCode AS organizationCode,
       t.direction AS direction,
       t.documentNumber AS documentNumber,
       t.lineNumber AS lineNumber,
       t.occurredOn AS occurredOn,
       t.descriptors AS descriptors,
       t.weight AS weight,
       t.unit AS unit,
       t.slotKinds AS slotKinds,
       t.revision AS revision,
       t.createdAt AS createdAt,
       t.updatedAt AS updatedAt,
       [(t)-[m:MAPPED_TO]->(linked:ReferenceEntity) | {slot: m.slot, entityId: linked.entityId, label: linked.label}] AS mappings`

const getTransactionCypher = `
MATCH (t:Transaction {transactionId: $transactionId})
RETURN` + transactionColumns + `
`

const listTransactionsCypherTemplate = `
MATCH (t:Transaction)
%s
RETURN` + transactionColumns + `
ORDER BY t.documentNumber, t.transactionId
SKIP $skip LIMIT $limit
`

const countTransactionsCypherTemplate = `
MATCH (t:Transaction)
%s
RETURN count(t) AS total
`

const countSlotsCypherTemplate = `
MATCH (t:Transaction)
%s
RETURN count(t) AS total,
       sum(CASE WHEN size(t.slotKinds) > 0 AND size(coalesce(t.resolvedSlots, [])) = size(t.slotKinds) THEN 1 ELSE 0 END) AS complete%s
`

// A per-slot status only matches records that carry the slot. resolvedSlots
// is kept in sync with MAPPED_TO links by ReplaceSlot.
const transactionFilterClause = `
WHERE ($organizationCode = "" OR t.organizationCode = $organizationCode)
  AND ($year = 0 OR t.year = $year)
  AND ($month = 0 OR t.month = $month)
  AND ($document = "" OR toLower(t.documentNumber) CONTAINS $document)
  AND ($direction = "" OR t.direction = $direction)
  AND ($status_line_item = "" OR ("line_item" IN t.slotKinds AND ("line_item" IN coalesce(t.resolvedSlots, [])) = ($status_line_item = "complete")))
  AND ($status_client = "" OR ("client" IN t.slotKinds AND ("client" IN coalesce(t.resolvedSlots, [])) = ($status_client = "complete")))
  AND ($status_secondary_client = "" OR ("secondary_client" IN t.slotKinds AND ("secondary_client" IN coalesce(t.resolvedSlots, [])) = ($status_secondary_client = "complete")))
  AND ($status_vehicle = "" OR ("vehicle" IN t.slotKinds AND ("vehicle" IN coalesce(t.resolvedSlots, [])) = ($status_vehicle = "complete")))
  AND ($overall = "" OR ((size(t.slotKinds) > 0 AND size(coalesce(t.resolvedSlots, [])) = size(t.slotKinds)) = ($overall = "complete")))
`

const replaceSlotReadCypher = `
MATCH (t:Transaction {transactionId: $transactionId})
OPTIONAL MATCH (c:ReferenceEntity {kind: $kind, entityId: $candidateId})
RETURN` + transactionColumns + `,
       c.entityId AS candidate_entityId,
       c.kind AS candidate_kind,
       c.code AS candidate_code,
       c.label AS candidate_label,
       c.organizationCode AS candidate_organizationCode,
       c.direction AS candidate_direction,
       c.capacity AS candidate_capacity,
       c.unit AS candidate_unit,
       c.attributesJson AS candidate_attributesJson
`

const replaceSlotWriteCypher = `
MATCH (t:Transaction {transactionId: $transactionId})
WHERE t.revision = $revision
MATCH (c:ReferenceEntity {kind: $kind, entityId: $candidateId})
OPTIONAL MATCH (t)-[old:MAPPED_TO {slot: $slot}]->()
DELETE old
WITH DISTINCT t, c
CREATE (t)-[:MAPPED_TO {slot: $slot, mappedAt: $now, mappedBy: $actor}]->(c)
SET t.revision = t.revision + 1,
    t.resolvedSlots = [k IN t.slotKinds WHERE k = $slot OR k IN coalesce(t.resolvedSlots, [])],
    t.updatedAt = $now
WITH t
RETURN` + transactionColumns + `
`
