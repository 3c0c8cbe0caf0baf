package validators

import "go.mongodb.org/mongo-driver/bson"

var ResourcePoolValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"hospital_id",
			"resource_type",
			"total",
			"available",
			"occupied",
			"reserved",
			"maintenance",
			"version",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"hospital_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"resource_type": bson.M{
				"enum": []string{"beds", "icu", "operationTheatres"},
			},

			"total": bson.M{
				"bsonType": "int",
				"minimum":  0,
			},

			"available": bson.M{
				"bsonType": "int",
				"minimum":  0,
			},

			"occupied": bson.M{
				"bsonType": "int",
				"minimum":  0,
			},

			"reserved": bson.M{
				"bsonType": "int",
				"minimum":  0,
			},

			"maintenance": bson.M{
				"bsonType": "int",
				"minimum":  0,
			},

			"version": bson.M{
				"bsonType": "long",
				"minimum":  0,
			},
		},
	},
}
