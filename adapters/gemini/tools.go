package gemini

import "google.golang.org/genai"

// toolDeclarations describes the local functions the model may invoke.
// Names and schemas must stay in sync with the session tool dispatcher.
func toolDeclarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        "placeOrder",
			Description: "Finalizes the pizza order.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"customerName":   {Type: genai.TypeString},
					"address":        {Type: genai.TypeString},
					"whatsappNumber": {Type: genai.TypeString},
					"items": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeString},
					},
					"specialInstructions": {Type: genai.TypeString},
					"total":               {Type: genai.TypeNumber},
					"paymentMethod":       {Type: genai.TypeString},
				},
				Required: []string{
					"customerName", "address", "whatsappNumber",
					"items", "total", "paymentMethod",
				},
			},
		},
		{
			Name:        "checkOrderStatus",
			Description: "Checks status of recent order.",
			Parameters:  &genai.Schema{Type: genai.TypeObject},
		},
	}
}
