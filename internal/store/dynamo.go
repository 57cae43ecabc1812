package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPage    = "PAGE#"
	pkImage   = "IMAGE#"
	pkJob     = "JOB#"
	pkUser    = "USER#"
	pkCounter = "COUNTER"

	skMeta        = "META"
	skSection     = "SECTION#"
	skEntitlement = "ENTITLEMENT#"
	skAPIKey      = "APIKEY"
	skImageSeq    = "IMAGE"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
)

// JobTTL is how long restyle job records are kept before DynamoDB expires them.
const JobTTL = 30 * 24 * time.Hour

// DynamoStore implements PageStore using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ PageStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

func pagePK(pageID string) string { return pkPage + pageID }
func imagePK(id int64) string     { return pkImage + strconv.FormatInt(id, 10) }
func jobPK(jobID string) string   { return pkJob + jobID }
func userPK(userID string) string { return pkUser + userID }

// sectionSK orders sections lexically by display order: SECTION#00003#hero.
func sectionSK(order int, sectionID string) string {
	return fmt.Sprintf("%s%05d#%s", skSection, order, sectionID)
}

// viewportAttr is the section attribute holding a viewport's image reference.
func viewportAttr(vp Viewport) (string, error) {
	switch vp {
	case ViewportDesktop:
		return "desktopImage", nil
	case ViewportMobile:
		return "mobileImage", nil
	default:
		return "", fmt.Errorf("unknown viewport %q", vp)
	}
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// marshalItem marshals a domain object and adds the PK/SK attributes.
// A non-zero ttl adds an expiresAt attribute.
func marshalItem(pk, sk string, data interface{}, ttl time.Duration) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	if ttl > 0 {
		item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(ttl).Unix(), 10)}
	}
	return item, nil
}

func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}, ttl time.Duration) error {
	item, err := marshalItem(pk, sk, data, ttl)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       keyOf(pk, sk),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// queryBySKPrefix returns all items under pk whose SK begins with skPrefix.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var allItems []map[string]types.AttributeValue

	// Handle pagination; DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// batchPut writes items in chunks of maxBatchWrite, retrying unprocessed items once.
func (s *DynamoStore) batchPut(ctx context.Context, items []map[string]types.AttributeValue) error {
	for start := 0; start < len(items); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(items))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}

		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tableName: reqs},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem: %w", err)
		}
		if pending := out.UnprocessedItems[s.tableName]; len(pending) > 0 {
			log.Warn().Int("unprocessed", len(pending)).Msg("Retrying unprocessed batch writes")
			if _, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.tableName: pending},
			}); err != nil {
				return fmt.Errorf("BatchWriteItem retry: %w", err)
			}
		}
	}
	return nil
}

// --- Pages ---

func (s *DynamoStore) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	found, err := s.getItem(ctx, pagePK(pageID), skMeta, &page)
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", pageID, err)
	}
	if !found {
		return nil, nil
	}
	page.ID = pageID

	items, err := s.queryBySKPrefix(ctx, pagePK(pageID), skSection)
	if err != nil {
		return nil, fmt.Errorf("get sections for %s: %w", pageID, err)
	}
	for _, item := range items {
		var sec Section
		if err := attributevalue.UnmarshalMap(item, &sec); err != nil {
			log.Warn().Err(err).Str("pageId", pageID).Msg("Failed to unmarshal section, skipping")
			continue
		}
		sec.PageID = pageID
		page.Sections = append(page.Sections, sec)
	}
	sort.SliceStable(page.Sections, func(i, j int) bool {
		return page.Sections[i].Order < page.Sections[j].Order
	})

	log.Debug().
		Str("pageId", pageID).
		Int("sections", len(page.Sections)).
		Msg("Page loaded")
	return &page, nil
}

func (s *DynamoStore) PutPage(ctx context.Context, page *Page) error {
	items := make([]map[string]types.AttributeValue, 0, len(page.Sections)+1)

	meta, err := marshalItem(pagePK(page.ID), skMeta, page, 0)
	if err != nil {
		return fmt.Errorf("put page %s: %w", page.ID, err)
	}
	items = append(items, meta)

	for _, sec := range page.Sections {
		item, err := marshalItem(pagePK(page.ID), sectionSK(sec.Order, sec.ID), sec, 0)
		if err != nil {
			return fmt.Errorf("put page %s section %s: %w", page.ID, sec.ID, err)
		}
		items = append(items, item)
	}

	if err := s.batchPut(ctx, items); err != nil {
		return fmt.Errorf("put page %s: %w", page.ID, err)
	}
	return nil
}

// --- Images ---

func (s *DynamoStore) NextImageID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              keyOf(pkCounter, skImageSeq),
		UpdateExpression: aws.String("ADD #v :one"),
		ExpressionAttributeNames: map[string]string{
			"#v": "value",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocate image id: %w", err)
	}
	n, ok := out.Attributes["value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("allocate image id: counter attribute missing")
	}
	id, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("allocate image id: %w", err)
	}
	return id, nil
}

func (s *DynamoStore) CreateImageAndRelink(ctx context.Context, rec *ImageRecord) error {
	attr, err := viewportAttr(rec.Viewport)
	if err != nil {
		return err
	}
	item, err := marshalItem(imagePK(rec.ID), skMeta, rec, 0)
	if err != nil {
		return fmt.Errorf("image %d: %w", rec.ID, err)
	}
	ref, err := attributevalue.Marshal(rec.Ref())
	if err != nil {
		return fmt.Errorf("image %d ref: %w", rec.ID, err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:           &s.tableName,
					Key:                 keyOf(pagePK(rec.PageID), sectionSK(rec.SectionOrder, rec.SectionID)),
					UpdateExpression:    aws.String("SET #img = :ref"),
					ConditionExpression: aws.String("attribute_exists(PK)"),
					ExpressionAttributeNames: map[string]string{
						"#img": attr,
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":ref": ref,
					},
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
					return fmt.Errorf("relink image %d to %s/%s: %w", rec.ID, rec.PageID, rec.SectionID, ErrSectionNotFound)
				}
			}
		}
		return fmt.Errorf("relink image %d to %s/%s: %w", rec.ID, rec.PageID, rec.SectionID, err)
	}

	log.Debug().
		Int64("imageId", rec.ID).
		Str("pageId", rec.PageID).
		Str("sectionId", rec.SectionID).
		Str("viewport", string(rec.Viewport)).
		Msg("Image record created and relinked")
	return nil
}

// --- Restyle jobs ---

func (s *DynamoStore) PutRestyleJob(ctx context.Context, job *RestyleJob) error {
	if err := s.putItem(ctx, jobPK(job.ID), skMeta, job, JobTTL); err != nil {
		return fmt.Errorf("put restyle job %s: %w", job.ID, err)
	}

	log.Debug().
		Str("jobId", job.ID).
		Str("status", job.Status).
		Int("updated", job.UpdatedCount).
		Int("total", job.TotalCount).
		Msg("Restyle job persisted")
	return nil
}

func (s *DynamoStore) GetRestyleJob(ctx context.Context, jobID string) (*RestyleJob, error) {
	var job RestyleJob
	found, err := s.getItem(ctx, jobPK(jobID), skMeta, &job)
	if err != nil {
		return nil, fmt.Errorf("get restyle job %s: %w", jobID, err)
	}
	if !found {
		return nil, nil
	}
	job.ID = jobID
	return &job, nil
}

// --- Users ---

func (s *DynamoStore) GetEntitlement(ctx context.Context, userID, feature string) (*Entitlement, error) {
	var ent Entitlement
	found, err := s.getItem(ctx, userPK(userID), skEntitlement+feature, &ent)
	if err != nil {
		return nil, fmt.Errorf("get entitlement %s/%s: %w", userID, feature, err)
	}
	if !found {
		return nil, nil
	}
	ent.UserID = userID
	ent.Feature = feature
	return &ent, nil
}

func (s *DynamoStore) PutEntitlement(ctx context.Context, ent *Entitlement) error {
	if err := s.putItem(ctx, userPK(ent.UserID), skEntitlement+ent.Feature, ent, 0); err != nil {
		return fmt.Errorf("put entitlement %s/%s: %w", ent.UserID, ent.Feature, err)
	}
	return nil
}

func (s *DynamoStore) ConsumeQuota(ctx context.Context, userID, feature string) (int, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(userPK(userID), skEntitlement+feature),
		UpdateExpression:    aws.String("SET remaining = remaining - :one"),
		ConditionExpression: aws.String("active = :t AND remaining >= :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":t":   &types.AttributeValueMemberBOOL{Value: true},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		var failed *types.ConditionalCheckFailedException
		if errors.As(err, &failed) {
			return 0, ErrQuotaExhausted
		}
		return 0, fmt.Errorf("consume quota %s/%s: %w", userID, feature, err)
	}

	remaining := 0
	if n, ok := out.Attributes["remaining"].(*types.AttributeValueMemberN); ok {
		remaining, _ = strconv.Atoi(n.Value)
	}
	log.Debug().Str("userId", userID).Str("feature", feature).Int("remaining", remaining).Msg("Quota consumed")
	return remaining, nil
}

type apiKeyItem struct {
	APIKey string `dynamodbav:"apiKey"`
}

func (s *DynamoStore) GetAPIKey(ctx context.Context, userID string) (string, error) {
	var item apiKeyItem
	found, err := s.getItem(ctx, userPK(userID), skAPIKey, &item)
	if err != nil {
		return "", fmt.Errorf("get api key for %s: %w", userID, err)
	}
	if !found {
		return "", nil
	}
	return strings.TrimSpace(item.APIKey), nil
}

func (s *DynamoStore) PutAPIKey(ctx context.Context, userID, apiKey string) error {
	if err := s.putItem(ctx, userPK(userID), skAPIKey, apiKeyItem{APIKey: apiKey}, 0); err != nil {
		return fmt.Errorf("put api key for %s: %w", userID, err)
	}
	return nil
}
