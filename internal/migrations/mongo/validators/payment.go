package validators

import "go.mongodb.org/mongo-driver/bson"

var TransactionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"booking_id",
			"user_id",
			"hospital_id",
			"amount",
			"payment_method",
			"status",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"booking_id": bson.M{
				"bsonType":  "string",
				"minLength": 24,
				"maxLength": 24,
			},

			"user_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"hospital_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"amount": bson.M{
				"bsonType": []string{"double", "int", "long"},
				"minimum":  0,
			},

			"service_charge": bson.M{
				"bsonType": []string{"double", "int", "long"},
				"minimum":  0,
			},

			"hospital_amount": bson.M{
				"bsonType": []string{"double", "int", "long"},
				"minimum":  0,
			},

			"payment_method": bson.M{
				"enum": []string{"card", "upi", "netbanking", "insurance"},
			},

			"status": bson.M{
				"enum": []string{"pending", "completed", "failed", "refunded"},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
