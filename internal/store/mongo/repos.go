package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dslhub/dslhub/internal/model"
	"github.com/dslhub/dslhub/internal/store"
)

func (s *Store) exists(ctx context.Context, coll, id string) (bool, error) {
	n, err := s.coll(coll).CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type flows struct{ s *Store }

func (r flows) Create(ctx context.Context, flow model.Flow) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	_, err := r.s.coll(collFlows).InsertOne(ctx, fromFlow(flow))
	return mapErr(err)
}

func (r flows) Get(ctx context.Context, id string) (model.Flow, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc flowDoc
	if err := r.s.coll(collFlows).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return model.Flow{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r flows) GetBySlug(ctx context.Context, slug string) (model.Flow, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	opts := options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2})
	var doc flowDoc
	if err := r.s.coll(collFlows).FindOne(ctx, bson.M{"slug": slug}, opts).Decode(&doc); err != nil {
		return model.Flow{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r flows) List(ctx context.Context) ([]model.Flow, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	cur, err := r.s.coll(collFlows).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []flowDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Flow, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (r flows) Delete(ctx context.Context, id string) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collFlows, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}

	threadIDs, err := r.s.idsOf(ctx, collThreads, bson.M{"flow_id": id})
	if err != nil {
		return err
	}
	runIDs, err := r.s.idsOf(ctx, collRuns, bson.M{"flow_id": id})
	if err != nil {
		return err
	}
	if len(threadIDs) > 0 {
		if _, err := r.s.coll(collMessages).DeleteMany(ctx, bson.M{"thread_id": bson.M{"$in": threadIDs}}); err != nil {
			return err
		}
		if _, err := r.s.coll(collThreadSummaries).DeleteMany(ctx, bson.M{"thread_id": bson.M{"$in": threadIDs}}); err != nil {
			return err
		}
	}
	if len(runIDs) > 0 {
		if _, err := r.s.coll(collIssues).DeleteMany(ctx, bson.M{"run_id": bson.M{"$in": runIDs}}); err != nil {
			return err
		}
	}
	for _, coll := range []string{collThreads, collPipelines, collRuns, collFlowSummaries, collSnapshots} {
		if _, err := r.s.coll(coll).DeleteMany(ctx, bson.M{"flow_id": id}); err != nil {
			return err
		}
	}
	_, err = r.s.coll(collFlows).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) idsOf(ctx context.Context, coll string, filter bson.M) ([]string, error) {
	cur, err := s.coll(coll).Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

type threads struct{ s *Store }

func (r threads) Create(ctx context.Context, thread model.Thread) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collFlows, thread.FlowID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrIntegrity
	}
	_, err = r.s.coll(collThreads).InsertOne(ctx, fromThread(thread))
	return mapErr(err)
}

func (r threads) Get(ctx context.Context, id string) (model.Thread, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc threadDoc
	if err := r.s.coll(collThreads).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return model.Thread{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r threads) Update(ctx context.Context, thread model.Thread) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	res, err := r.s.coll(collThreads).ReplaceOne(ctx, bson.M{"_id": thread.ID}, fromThread(thread))
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r threads) ListForFlow(ctx context.Context, flowID string) ([]model.Thread, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	cur, err := r.s.coll(collThreads).Find(ctx, bson.M{"flow_id": flowID},
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []threadDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Thread, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

type messages struct{ s *Store }

func (r messages) Create(ctx context.Context, msg model.Message) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collThreads, msg.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrIntegrity
	}
	_, err = r.s.coll(collMessages).InsertOne(ctx, fromMessage(msg))
	return mapErr(err)
}

func (r messages) Get(ctx context.Context, id string) (model.Message, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc messageDoc
	if err := r.s.coll(collMessages).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return model.Message{}, mapErr(err)
	}
	return doc.toModel(), nil
}

// olderThan matters for cursor pagination: strictly before the anchor in the
// (created_at, _id) order.
func olderThan(threadID string, anchor messageDoc) bson.M {
	return bson.M{
		"thread_id": threadID,
		"$or": bson.A{
			bson.M{"created_at": bson.M{"$lt": anchor.CreatedAt}},
			bson.M{"created_at": anchor.CreatedAt, "_id": bson.M{"$lt": anchor.ID}},
		},
	}
}

func (r messages) List(ctx context.Context, threadID string, limit int, beforeID string) ([]model.Message, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"thread_id": threadID}
	if beforeID != "" {
		var anchor messageDoc
		if err := r.s.coll(collMessages).FindOne(ctx, bson.M{"_id": beforeID, "thread_id": threadID}).Decode(&anchor); err != nil {
			return nil, mapErr(err)
		}
		filter = olderThan(threadID, anchor)
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.s.coll(collMessages).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	// Fetched newest-first; return ascending.
	out := make([]model.Message, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = d.toModel()
	}
	return out, nil
}

func (r messages) Last(ctx context.Context, threadID string) (model.Message, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var doc messageDoc
	if err := r.s.coll(collMessages).FindOne(ctx, bson.M{"thread_id": threadID}, opts).Decode(&doc); err != nil {
		return model.Message{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r messages) OlderExists(ctx context.Context, threadID, msgID string) (bool, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var anchor messageDoc
	if err := r.s.coll(collMessages).FindOne(ctx, bson.M{"_id": msgID, "thread_id": threadID}).Decode(&anchor); err != nil {
		return false, mapErr(err)
	}
	n, err := r.s.coll(collMessages).CountDocuments(ctx, olderThan(threadID, anchor), options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type schemas struct{ s *Store }

func (r schemas) CreateDefinition(ctx context.Context, def model.SchemaDefinition) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	_, err := r.s.coll(collSchemaDefs).InsertOne(ctx, fromSchemaDef(def))
	return mapErr(err)
}

func (r schemas) GetDefinition(ctx context.Context, id string) (model.SchemaDefinition, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc schemaDefDoc
	if err := r.s.coll(collSchemaDefs).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return model.SchemaDefinition{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r schemas) FindDefinition(ctx context.Context, name, version string) (model.SchemaDefinition, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc schemaDefDoc
	if err := r.s.coll(collSchemaDefs).FindOne(ctx, bson.M{"name": name, "version": version}).Decode(&doc); err != nil {
		return model.SchemaDefinition{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r schemas) UpsertChannel(ctx context.Context, ch model.SchemaChannel) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collSchemaDefs, ch.ActiveSchemaDefID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrIntegrity
	}
	doc := channelDoc{Name: ch.Name, ActiveSchemaDefID: ch.ActiveSchemaDefID}
	_, err = r.s.coll(collSchemaChannels).ReplaceOne(ctx, bson.M{"_id": ch.Name}, doc, options.Replace().SetUpsert(true))
	return mapErr(err)
}

func (r schemas) GetChannel(ctx context.Context, name string) (model.SchemaChannel, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc channelDoc
	if err := r.s.coll(collSchemaChannels).FindOne(ctx, bson.M{"_id": name}).Decode(&doc); err != nil {
		return model.SchemaChannel{}, mapErr(err)
	}
	return model.SchemaChannel{Name: doc.Name, ActiveSchemaDefID: doc.ActiveSchemaDefID}, nil
}

type pipelines struct{ s *Store }

func (r pipelines) Create(ctx context.Context, p model.Pipeline) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collFlows, p.FlowID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrIntegrity
	}
	var def schemaDefDoc
	if err := r.s.coll(collSchemaDefs).FindOne(ctx, bson.M{"_id": p.SchemaDefID}).Decode(&def); err != nil {
		if mapErr(err) == store.ErrNotFound {
			return store.ErrIntegrity
		}
		return err
	}
	p.SchemaVersion = def.Version
	_, err = r.s.coll(collPipelines).InsertOne(ctx, fromPipeline(p))
	return mapErr(err)
}

func (r pipelines) Get(ctx context.Context, id string) (model.Pipeline, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc pipelineDoc
	if err := r.s.coll(collPipelines).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return model.Pipeline{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r pipelines) FindByHash(ctx context.Context, flowID string, hash []byte) (model.Pipeline, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc pipelineDoc
	err := r.s.coll(collPipelines).FindOne(ctx, bson.M{"flow_id": flowID, "content_hash": hash}).Decode(&doc)
	if err != nil {
		return model.Pipeline{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r pipelines) Latest(ctx context.Context, flowID string) (model.Pipeline, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var doc pipelineDoc
	if err := r.s.coll(collPipelines).FindOne(ctx, bson.M{"flow_id": flowID}, opts).Decode(&doc); err != nil {
		return model.Pipeline{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r pipelines) Published(ctx context.Context, flowID string) (model.Pipeline, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc pipelineDoc
	err := r.s.coll(collPipelines).FindOne(ctx, bson.M{"flow_id": flowID, "is_published": true}).Decode(&doc)
	if err != nil {
		return model.Pipeline{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r pipelines) ListForFlow(ctx context.Context, flowID string, published *bool) ([]model.Pipeline, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"flow_id": flowID}
	if published != nil {
		filter["is_published"] = *published
	}
	cur, err := r.s.coll(collPipelines).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var docs []pipelineDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.Pipeline, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (r pipelines) CountPublished(ctx context.Context, flowID string) (int, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	n, err := r.s.coll(collPipelines).CountDocuments(ctx, bson.M{"flow_id": flowID, "is_published": true})
	return int(n), err
}

func (r pipelines) ClearPublished(ctx context.Context, flowID, keepID string) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	_, err := r.s.coll(collPipelines).UpdateMany(ctx,
		bson.M{"flow_id": flowID, "is_published": true, "_id": bson.M{"$ne": keepID}},
		bson.M{"$set": bson.M{
			"is_published": false,
			"status":       string(model.PipelineDraft),
			"updated_at":   time.Now().UTC(),
		}})
	return err
}

func (r pipelines) MarkPublished(ctx context.Context, id string) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	res, err := r.s.coll(collPipelines).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"is_published": true,
			"status":       string(model.PipelinePublished),
			"updated_at":   time.Now().UTC(),
		}})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

type runs struct{ s *Store }

func (r runs) Create(ctx context.Context, run model.GenerationRun) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collFlows, run.FlowID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrIntegrity
	}
	_, err = r.s.coll(collRuns).InsertOne(ctx, fromRun(run))
	return mapErr(err)
}

func (r runs) Get(ctx context.Context, id string) (model.GenerationRun, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc runDoc
	if err := r.s.coll(collRuns).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return model.GenerationRun{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r runs) SetStage(ctx context.Context, id string, stage model.RunStage, status model.RunStatus, result map[string]any) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	set := bson.M{"stage": string(stage), "status": string(status)}
	if result != nil {
		set["result"] = result
	}
	res, err := r.s.coll(collRuns).UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$ne": string(model.RunCanceled)}},
		bson.M{"$set": set})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return r.missingOrCanceled(ctx, id)
	}
	if status == model.RunRunning {
		_, err = r.s.coll(collRuns).UpdateOne(ctx,
			bson.M{"_id": id, "started_at": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"started_at": time.Now().UTC()}})
	}
	return err
}

func (r runs) Finish(ctx context.Context, id string, status model.RunStatus, errMsg string) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	res, err := r.s.coll(collRuns).UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$ne": string(model.RunCanceled)}},
		bson.M{"$set": bson.M{
			"status":      string(status),
			"error":       errMsg,
			"finished_at": time.Now().UTC(),
		}})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return r.missingOrCanceled(ctx, id)
	}
	return nil
}

func (r runs) Cancel(ctx context.Context, id string) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	res, err := r.s.coll(collRuns).UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$nin": bson.A{
			string(model.RunSucceeded), string(model.RunFailed),
		}}},
		bson.M{"$set": bson.M{
			"status":      string(model.RunCanceled),
			"finished_at": time.Now().UTC(),
		}})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return r.missingOrCanceled(ctx, id)
	}
	return nil
}

// missingOrCanceled distinguishes a filtered-out update from a missing run.
func (r runs) missingOrCanceled(ctx context.Context, id string) error {
	ok, err := r.s.exists(ctx, collRuns, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (r runs) AddIssues(ctx context.Context, runID string, issues []model.ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collRuns, runID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	docs := make([]any, len(issues))
	for i, issue := range issues {
		issue.RunID = runID
		if issue.ID == "" {
			issue.ID = uuid.NewString()
		}
		docs[i] = fromIssue(issue)
	}
	_, err = r.s.coll(collIssues).InsertMany(ctx, docs)
	return mapErr(err)
}

func (r runs) Issues(ctx context.Context, runID string) ([]model.ValidationIssue, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	cur, err := r.s.coll(collIssues).Find(ctx, bson.M{"run_id": runID})
	if err != nil {
		return nil, err
	}
	var docs []issueDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.ValidationIssue, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

type summaries struct{ s *Store }

func (r summaries) CreateThreadSummary(ctx context.Context, ts model.ThreadSummary) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collThreads, ts.ThreadID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrIntegrity
	}
	_, err = r.s.coll(collThreadSummaries).InsertOne(ctx, fromThreadSummary(ts))
	return mapErr(err)
}

func (r summaries) LatestThreadSummary(ctx context.Context, threadID string) (model.ThreadSummary, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc threadSummaryDoc
	if err := r.s.coll(collThreadSummaries).FindOne(ctx, bson.M{"thread_id": threadID}, opts).Decode(&doc); err != nil {
		return model.ThreadSummary{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r summaries) ListThreadSummaries(ctx context.Context, threadID string) ([]model.ThreadSummary, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	cur, err := r.s.coll(collThreadSummaries).Find(ctx, bson.M{"thread_id": threadID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []threadSummaryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.ThreadSummary, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (r summaries) ActiveFlowSummary(ctx context.Context, flowID string) (model.FlowSummary, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc flowSummaryDoc
	err := r.s.coll(collFlowSummaries).FindOne(ctx, bson.M{"flow_id": flowID, "is_active": true}).Decode(&doc)
	if err != nil {
		return model.FlowSummary{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r summaries) CreateFlowSummary(ctx context.Context, fs model.FlowSummary) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collFlows, fs.FlowID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrIntegrity
	}
	_, err = r.s.coll(collFlowSummaries).InsertOne(ctx, fromFlowSummary(fs))
	return mapErr(err)
}

func (r summaries) UpdateFlowSummary(ctx context.Context, fs model.FlowSummary) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	res, err := r.s.coll(collFlowSummaries).ReplaceOne(ctx, bson.M{"_id": fs.ID}, fromFlowSummary(fs))
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r summaries) DeactivateOthers(ctx context.Context, flowID, keepID string) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	_, err := r.s.coll(collFlowSummaries).UpdateMany(ctx,
		bson.M{"flow_id": flowID, "is_active": true, "_id": bson.M{"$ne": keepID}},
		bson.M{"$set": bson.M{"is_active": false, "updated_at": time.Now().UTC()}})
	return err
}

type snapshots struct{ s *Store }

func (r snapshots) Create(ctx context.Context, snap model.ContextSnapshot) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	ok, err := r.s.exists(ctx, collFlows, snap.FlowID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrIntegrity
	}

	var defp *model.SchemaDefinition
	var defDoc schemaDefDoc
	if err := r.s.coll(collSchemaDefs).FindOne(ctx, bson.M{"_id": snap.SchemaDefID}).Decode(&defDoc); err == nil {
		def := defDoc.toModel()
		defp = &def
	}
	var fsp *model.FlowSummary
	if snap.FlowSummaryID != "" {
		var fsDoc flowSummaryDoc
		if err := r.s.coll(collFlowSummaries).FindOne(ctx, bson.M{"_id": snap.FlowSummaryID}).Decode(&fsDoc); err == nil {
			fs := fsDoc.toModel()
			fsp = &fs
		}
	}
	var pp *model.Pipeline
	if snap.PipelineID != "" {
		var pDoc pipelineDoc
		if err := r.s.coll(collPipelines).FindOne(ctx, bson.M{"_id": snap.PipelineID}).Decode(&pDoc); err == nil {
			p := pDoc.toModel()
			pp = &p
		}
	}
	if err := store.CheckSnapshot(snap, defp, fsp, pp); err != nil {
		return err
	}
	_, err = r.s.coll(collSnapshots).InsertOne(ctx, fromSnapshot(snap))
	return mapErr(err)
}

func (r snapshots) Get(ctx context.Context, id string) (model.ContextSnapshot, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc snapshotDoc
	if err := r.s.coll(collSnapshots).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return model.ContextSnapshot{}, mapErr(err)
	}
	return doc.toModel(), nil
}

func (r snapshots) SetOriginThread(ctx context.Context, id, threadID string) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	res, err := r.s.coll(collSnapshots).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"origin_thread_id": threadID}})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
