package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/sites"
	"github.com/wayfarer/wayfarer/internal/failure"
)

// List fields used by travel lists.
const (
	FieldLocationName = "LocationName"
	FieldCountry      = "Country"
	FieldStatus       = "Status"
)

// ListSummary is the subset of a SharePoint list returned to callers.
type ListSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl,omitempty"`
}

// TravelListItem is a row of a travel list.
type TravelListItem struct {
	ID           string `json:"id,omitempty"`
	LocationName string `json:"locationName"`
	Country      string `json:"country"`
	Status       string `json:"status"`
}

// Lists performs SharePoint list CRUD through the Graph SDK.
type Lists struct {
	client *msgraphsdk.GraphServiceClient
}

// NewLists builds a Graph SDK client authorized by cred for scope. A non-empty
// baseURL overrides the SDK's default service root.
func NewLists(cred azcore.TokenCredential, scope, baseURL string) (*Lists, error) {
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{scope})
	if err != nil {
		return nil, fmt.Errorf("creating Graph client: %w", err)
	}
	if baseURL != "" {
		client.GetAdapter().SetBaseUrl(strings.TrimRight(baseURL, "/"))
	}
	return &Lists{client: client}, nil
}

func (l *Lists) ListLists(ctx context.Context, siteID string) ([]ListSummary, error) {
	res, err := l.client.Sites().BySiteId(siteID).Lists().Get(ctx, nil)
	if err != nil {
		return nil, classifySDKError("list lists", err)
	}

	summaries := []ListSummary{}
	for _, list := range res.GetValue() {
		summaries = append(summaries, summarize(list))
	}
	return summaries, nil
}

// CreateList creates a generic list with a Title text column.
func (l *Lists) CreateList(ctx context.Context, siteID, name string) (ListSummary, error) {
	if strings.TrimSpace(name) == "" {
		return ListSummary{}, failure.New(failure.KindInvalidInput, "create list", "list name is required")
	}

	title := "Title"
	column := models.NewColumnDefinition()
	column.SetName(&title)
	column.SetText(models.NewTextColumn())

	list := models.NewList()
	list.SetDisplayName(&name)
	list.SetColumns([]models.ColumnDefinitionable{column})

	created, err := l.client.Sites().BySiteId(siteID).Lists().Post(ctx, list, nil)
	if err != nil {
		return ListSummary{}, classifySDKError("create list", err)
	}
	return summarize(created), nil
}

func (l *Lists) DeleteList(ctx context.Context, siteID, listID string) error {
	err := l.client.Sites().BySiteId(siteID).Lists().ByListId(listID).Delete(ctx, nil)
	return classifySDKError("delete list", err)
}

// ListItems returns the rows of a list with their fields expanded.
func (l *Lists) ListItems(ctx context.Context, siteID, listID string) ([]TravelListItem, error) {
	config := &sites.ItemListsItemItemsRequestBuilderGetRequestConfiguration{
		QueryParameters: &sites.ItemListsItemItemsRequestBuilderGetQueryParameters{
			Expand: []string{"fields"},
		},
	}

	res, err := l.client.Sites().BySiteId(siteID).Lists().ByListId(listID).Items().Get(ctx, config)
	if err != nil {
		return nil, classifySDKError("list items", err)
	}

	items := []TravelListItem{}
	for _, item := range res.GetValue() {
		if travel, ok := travelItem(item); ok {
			items = append(items, travel)
		}
	}
	return items, nil
}

func (l *Lists) CreateItem(ctx context.Context, siteID, listID string, item TravelListItem) (TravelListItem, error) {
	if strings.TrimSpace(item.LocationName) == "" {
		return TravelListItem{}, failure.New(failure.KindInvalidInput, "create item", "locationName is required")
	}

	fields := models.NewFieldValueSet()
	fields.SetAdditionalData(map[string]any{
		"Title":           item.LocationName,
		FieldLocationName: item.LocationName,
		FieldCountry:      item.Country,
		FieldStatus:       item.Status,
	})

	body := models.NewListItem()
	body.SetFields(fields)

	created, err := l.client.Sites().BySiteId(siteID).Lists().ByListId(listID).Items().Post(ctx, body, nil)
	if err != nil {
		return TravelListItem{}, classifySDKError("create item", err)
	}

	result, ok := travelItem(created)
	if !ok {
		// the service does not always echo fields on create
		result = item
		result.ID = deref(created.GetId())
	}
	return result, nil
}

func (l *Lists) DeleteItem(ctx context.Context, siteID, listID, itemID string) error {
	err := l.client.Sites().BySiteId(siteID).Lists().ByListId(listID).Items().ByListItemId(itemID).Delete(ctx, nil)
	return classifySDKError("delete item", err)
}

func summarize(list models.Listable) ListSummary {
	if list == nil {
		return ListSummary{}
	}
	return ListSummary{
		ID:          deref(list.GetId()),
		DisplayName: deref(list.GetDisplayName()),
		WebURL:      deref(list.GetWebUrl()),
	}
}

// travelItem maps a list item's expanded fields. Items without fields are
// skipped.
func travelItem(item models.ListItemable) (TravelListItem, bool) {
	if item == nil || item.GetFields() == nil {
		return TravelListItem{}, false
	}
	data := item.GetFields().GetAdditionalData()
	if data == nil {
		return TravelListItem{}, false
	}

	return TravelListItem{
		ID:           deref(item.GetId()),
		LocationName: fieldString(data, FieldLocationName),
		Country:      fieldString(data, FieldCountry),
		Status:       fieldString(data, FieldStatus),
	}, true
}

func fieldString(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case *string:
		return deref(v)
	default:
		return fmt.Sprint(v)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// classifySDKError maps Graph SDK errors onto failure kinds using the
// response status when the SDK reports one.
func classifySDKError(op string, err error) error {
	if err == nil {
		return nil
	}

	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) && odataErr.ResponseStatusCode != 0 {
		detail := "Graph API returned an error"
		if main := odataErr.GetErrorEscaped(); main != nil && main.GetCode() != nil {
			detail = "Graph API error " + *main.GetCode()
		}
		fe := failure.ForStatus(op, odataErr.ResponseStatusCode, detail)
		fe.Err = err
		return fe
	}

	if failure.KindOf(err) != failure.KindUnknown {
		return err
	}
	return failure.Wrap(failure.KindTransient, op, err, "Graph request failed")
}
