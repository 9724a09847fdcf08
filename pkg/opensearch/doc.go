// Package opensearch connects to the OpenSearch cluster that receives
// upgrade-prompt analytics events.
//
//	client, err := opensearch.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	sink := prompt.NewOpenSearchSink(client, cfg.PromptEventsIndex, log)
package opensearch
