package mockapi

import (
	"net/http"
	"sync"
	"time"
)

type Recipe struct {
	ID           int64     `json:"id"`
	FoodID       int64     `json:"food_id"`
	SourceType   string    `json:"source_type"`
	Title        string    `json:"title,omitempty"`
	Ingredients  string    `json:"ingredients,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	SourceDetail string    `json:"source_detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type detection struct {
	foodID  int64
	ownerID int64
}

type ingredientInput struct {
	foodIDs []int64
	ownerID int64
}

// Catalog holds recipes and the detection and ingredient-input records
// recommendations are derived from.
type Catalog struct {
	mu         sync.RWMutex
	recipes    map[int64][]Recipe
	detections map[int64]detection
	inputs     map[int64]ingredientInput
	nextRecipe int64
}

func NewCatalog() *Catalog {
	return &Catalog{
		recipes:    make(map[int64][]Recipe),
		detections: make(map[int64]detection),
		inputs:     make(map[int64]ingredientInput),
		nextRecipe: 1,
	}
}

// DefaultCatalog seeds a few foods, detections and ingredient inputs owned
// by nobody, which makes them visible through the public endpoints only.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.AddRecipe(1, "Kimchi stew", "kimchi, pork, tofu", "Simmer everything for 20 minutes.")
	c.AddRecipe(1, "Kimchi fried rice", "kimchi, rice, egg", "Fry the kimchi, add rice, top with an egg.")
	c.AddRecipe(2, "Bibimbap", "rice, vegetables, gochujang", "Arrange toppings over rice and mix.")
	c.AddRecipe(3, "Bulgogi", "beef, soy sauce, pear", "Marinate overnight and grill.")

	c.AddDetection(1, 1, 0)
	c.AddDetection(2, 2, 0)
	c.AddDetection(3, 99, 0)
	c.AddIngredientInput(1, 0, 1, 3)
	c.AddIngredientInput(2, 0)
	return c
}

func (c *Catalog) AddRecipe(foodID int64, title, ingredients, instructions string) Recipe {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	r := Recipe{
		ID:           c.nextRecipe,
		FoodID:       foodID,
		SourceType:   "seed",
		Title:        title,
		Ingredients:  ingredients,
		Instructions: instructions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.nextRecipe++
	c.recipes[foodID] = append(c.recipes[foodID], r)
	return r
}

// AddDetection registers a detection result. ownerID 0 means anonymous.
func (c *Catalog) AddDetection(id, foodID, ownerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detections[id] = detection{foodID: foodID, ownerID: ownerID}
}

func (c *Catalog) AddIngredientInput(id, ownerID int64, foodIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs[id] = ingredientInput{foodIDs: foodIDs, ownerID: ownerID}
}

type lookupResult struct {
	recipes []Recipe
	status  int
	detail  string
}

// Lookup resolves a recommendation request. Private lookups only see
// records owned by userID.
func (c *Catalog) Lookup(kind string, id int64, private bool, userID int64) lookupResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var foodIDs []int64
	switch kind {
	case "detection":
		d, ok := c.detections[id]
		if !ok {
			return lookupResult{status: http.StatusNotFound, detail: "Detection result not found"}
		}
		if private && d.ownerID != userID {
			return lookupResult{status: http.StatusForbidden, detail: "Not allowed to access this detection result"}
		}
		foodIDs = []int64{d.foodID}
	case "ingredient":
		in, ok := c.inputs[id]
		if !ok {
			return lookupResult{status: http.StatusNotFound, detail: "Ingredient input not found"}
		}
		if private && in.ownerID != userID {
			return lookupResult{status: http.StatusForbidden, detail: "Not allowed to access this ingredient input"}
		}
		if len(in.foodIDs) == 0 {
			return lookupResult{status: http.StatusBadRequest, detail: "No matched foods found for this input"}
		}
		foodIDs = in.foodIDs
	default:
		return lookupResult{status: http.StatusNotFound, detail: "Not Found"}
	}

	recipes := []Recipe{}
	for _, f := range foodIDs {
		recipes = append(recipes, c.recipes[f]...)
	}
	if len(recipes) == 0 {
		return lookupResult{status: http.StatusNotFound, detail: "No recipes found for matched foods"}
	}
	return lookupResult{recipes: recipes, status: http.StatusOK}
}
